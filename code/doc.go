// Package code runs untrusted Go scripts on a bounded worker pool and turns
// every outcome into a [Result].
//
// A caller submits a [Request] to the [DefaultExecutor]. The request waits
// for one of MaxConcurrent worker slots, then moves through the states
// Pending, Preparing and Running, and ends as exactly one of Succeeded, Failed
// or TimedOut. The pluggable [Engine] does the actual evaluation; this package
// owns everything around it:
//
//   - Output capture: each request gets its own stdout and stderr buffers,
//     so concurrent scripts never see each other's output.
//   - Deadlines: the executor races the worker against the request budget.
//     When the budget expires the caller gets a TimedOut result with the
//     partial output immediately. The worker keeps its slot until the script
//     returns.
//   - Error text: failures are classified by kind (SyntaxError, Panic,
//     PermissionDenied, ServerNotFound, ...) and rendered as
//     "Kind: message" plus a trace when one exists.
//
// # Tools
//
// Scripts reach the tool catalog and remote tools through [Tools]. Calls made
// through Tools.Call are counted against MaxToolCalls and recorded as
// [ToolCallRecord] entries on the Result.
package code

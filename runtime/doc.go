// Package runtime evaluates scripts with the yaegi Go interpreter behind a
// restricted symbol table.
//
// Nothing outside the symbol table is reachable from a script. The table
// holds three kinds of entries:
//
//   - Standard library packages named by the allow-list, resolved once by
//     the [Registry]. A hard deny list (os, os/exec, syscall, unsafe,
//     reflect, runtime, plugin, ...) wins over any allow-list.
//   - The "sandbox" package, bound to the request's workspace gate. Its Open,
//     ReadFile and WriteFile are the only file I/O a script has.
//   - The "tools" package, bound to the request's discovery façade.
//
// The interpreter itself, and with it any way to evaluate text as code, is
// never exported.
//
// # Script forms
//
// A script that starts with a package clause runs as written. Anything else
// is treated as a list of statements: leading imports are kept, packages the
// body references are imported automatically, top-level func and type
// declarations are hoisted, and the rest becomes the body of main. Scripts
// that use ctx, tools.Call, go statements, select or channel receives get a
// ctx bound to the execution deadline.
//
//	result, err := tools.Call(ctx, "weather.get_forecast", map[string]any{"city": "Oslo"})
//	if err != nil {
//		panic(err)
//	}
//	fmt.Println(result)
package runtime

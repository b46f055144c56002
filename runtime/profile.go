package runtime

// SecurityProfile selects a default import allow-list.
type SecurityProfile string

const (
	// ProfileDev adds an HTTP client to the standard list. http.Dir can
	// read outside the workspace, so it is meant for trusted scripts.
	ProfileDev SecurityProfile = "dev"

	// ProfileStandard allows text, encoding, math and concurrency packages.
	ProfileStandard SecurityProfile = "standard"

	// ProfileHardened allows only pure text and math helpers.
	ProfileHardened SecurityProfile = "hardened"
)

// IsValid reports whether p is a known profile.
func (p SecurityProfile) IsValid() bool {
	switch p {
	case ProfileDev, ProfileStandard, ProfileHardened:
		return true
	default:
		return false
	}
}

var hardenedModules = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

var standardModules = append(append([]string(nil), hardenedModules...),
	"bufio",
	"container/heap",
	"container/list",
	"context",
	"crypto/md5",
	"crypto/sha1",
	"crypto/sha256",
	"encoding/base64",
	"encoding/csv",
	"encoding/hex",
	"hash/crc32",
	"html",
	"io",
	"math/big",
	"math/rand",
	"net/url",
	"path",
	"sync",
	"sync/atomic",
	"text/tabwriter",
)

var devModules = append(append([]string(nil), standardModules...),
	"encoding/xml",
	"mime",
	"net/http",
)

// Modules returns the allow-list for p. Unknown profiles get the standard
// list.
func (p SecurityProfile) Modules() []string {
	switch p {
	case ProfileDev:
		return append([]string(nil), devModules...)
	case ProfileHardened:
		return append([]string(nil), hardenedModules...)
	default:
		return append([]string(nil), standardModules...)
	}
}

package abiv2

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/duckmesh/wrappers/internal/fdw"
)

const (
	// HostModule is the import module name of host functions.
	HostModule = "wrappers"
	// VersionSection is the custom section holding the declared ABI version.
	VersionSection = "wrappers-abi"
)

// Guest exports. Each takes (ptr, len) of a JSON request in guest memory and
// returns (ptr << 32 | len) of a JSON Result in guest memory.
//
// The host allocates the request with cabi_realloc (or alloc) and hands it
// to the export, which owns it from then on and must release it. After the
// host has copied the result it calls cabi_post_<export> with the packed
// return value, if the guest exports it, so the guest can free the result.
// A guest without post-return exports must reuse its result buffers.
const (
	ExportCreate              = "create"
	ExportBeginScan           = "begin_scan"
	ExportIterScan            = "iter_scan"
	ExportReScan              = "re_scan"
	ExportEndScan             = "end_scan"
	ExportBeginModify         = "begin_modify"
	ExportInsert              = "insert"
	ExportUpdate              = "update"
	ExportDelete              = "delete"
	ExportEndModify           = "end_modify"
	ExportImportForeignSchema = "import_foreign_schema"
)

// PostReturnPrefix names the optional export that releases a result.
const PostReturnPrefix = "cabi_post_"

// RequiredExports must be present in every guest.
var RequiredExports = []string{ExportCreate, ExportBeginScan, ExportIterScan, ExportReScan, ExportEndScan}

// Log levels accepted by the host log import.
const (
	LogDebug uint32 = iota
	LogInfo
	LogWarn
	LogError
)

// CheckVersion accepts declared versions sharing the host's major version.
func CheckVersion(declared string) error {
	v := strings.TrimSpace(declared)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fdw.PluginFault(fmt.Sprintf("invalid abi version %q", declared), nil)
	}
	if semver.Major(v) != semver.Major(Version) {
		return fdw.PluginFault(fmt.Sprintf("unsupported abi version %s, host implements %s", v, semver.Major(Version)), nil)
	}
	return nil
}

type Empty struct{}

type CreateRequest struct {
	Server  string            `json:"server"`
	Options map[string]string `json:"options"`
}

type BeginScanRequest struct {
	Quals   []Qual            `json:"quals"`
	Columns []Column          `json:"columns"`
	Sorts   []Sort            `json:"sorts"`
	Limit   *Limit            `json:"limit,omitempty"`
	Options map[string]string `json:"options"`
}

// IterScanResponse carries the next row, or no row once the scan is
// exhausted.
type IterScanResponse struct {
	Row *Row `json:"row"`
}

type BeginModifyRequest struct {
	Options map[string]string `json:"options"`
}

type InsertRequest struct {
	Row Row `json:"row"`
}

type UpdateRequest struct {
	Rowid *Cell `json:"rowid"`
	Row   Row   `json:"row"`
}

type DeleteRequest struct {
	Rowid *Cell `json:"rowid"`
}

type ImportForeignSchemaRequest struct {
	Stmt ImportForeignSchemaStmt `json:"stmt"`
}

type ImportForeignSchemaResponse struct {
	Statements []string `json:"statements"`
}

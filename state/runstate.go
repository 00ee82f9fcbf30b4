// Package state persists per-run workflow state as one JSON file per
// run. Writes are atomic (temp file + rename) and serialized per run;
// loads validate against an embedded JSON schema so a corrupted or
// foreign file fails loudly instead of driving a phase off a cliff.
package state

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Issue classifications produced by the plan phase.
const (
	ClassBug     = "bug"
	ClassFeature = "feature"
	ClassChore   = "chore"
)

// Model sets selectable per run.
const (
	ModelSetBase  = "base"
	ModelSetHeavy = "heavy"
)

// Data sources for run inputs.
const (
	SourceForge = "forge"
	SourceBoard = "board"
)

// PatchRecord is one entry in a run's patch history.
type PatchRecord struct {
	PatchFile string `json:"patch_file"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// RunState is the durable record for one workflow run. Optional fields
// use pointers so a merge update can distinguish "unset" from "clear".
type RunState struct {
	RunID        string         `json:"run_id"`
	IssueNumber  string         `json:"issue_number,omitempty"`
	BranchName   string         `json:"branch_name,omitempty"`
	PlanFile     string         `json:"plan_file,omitempty"`
	IssueClass   string         `json:"issue_class,omitempty"`
	WorktreePath string         `json:"worktree_path,omitempty"`
	WSPort       int            `json:"ws_port,omitempty"`
	FEPort       int            `json:"fe_port,omitempty"`
	ModelSet     string         `json:"model_set"`
	DataSource   string         `json:"data_source"`
	IssuePayload map[string]any `json:"issue_payload,omitempty"`
	LinkedRuns   []string       `json:"linked_runs,omitempty"`
	PatchFile    string         `json:"patch_file,omitempty"`
	PatchHistory []PatchRecord  `json:"patch_history,omitempty"`
	TotalCostUSD float64        `json:"total_cost_usd,omitempty"`
	Completed    bool           `json:"completed"`
	Version      int            `json:"version,omitempty"`
}

// Patch is a merge update against a RunState. Nil fields are left
// untouched; LinkedRuns and PatchHistory entries are appended.
type Patch struct {
	IssueNumber  *string
	BranchName   *string
	PlanFile     *string
	IssueClass   *string
	WorktreePath *string
	WSPort       *int
	FEPort       *int
	IssuePayload map[string]any
	LinkRun      *string
	PatchFile    *string
	AddPatch     *PatchRecord
	AddCostUSD   *float64
	Completed    *bool
}

// apply merges the patch into s and returns the names of changed fields.
func (p Patch) apply(s *RunState) []string {
	var changed []string
	set := func(dst *string, src *string, name string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = append(changed, name)
		}
	}
	set(&s.IssueNumber, p.IssueNumber, "issue_number")
	set(&s.BranchName, p.BranchName, "branch_name")
	set(&s.PlanFile, p.PlanFile, "plan_file")
	set(&s.IssueClass, p.IssueClass, "issue_class")
	set(&s.WorktreePath, p.WorktreePath, "worktree_path")
	set(&s.PatchFile, p.PatchFile, "patch_file")
	if p.WSPort != nil && s.WSPort != *p.WSPort {
		s.WSPort = *p.WSPort
		changed = append(changed, "ws_port")
	}
	if p.FEPort != nil && s.FEPort != *p.FEPort {
		s.FEPort = *p.FEPort
		changed = append(changed, "fe_port")
	}
	if p.IssuePayload != nil {
		s.IssuePayload = p.IssuePayload
		changed = append(changed, "issue_payload")
	}
	if p.LinkRun != nil {
		s.LinkedRuns = append(s.LinkedRuns, *p.LinkRun)
		changed = append(changed, "linked_runs")
	}
	if p.AddPatch != nil {
		s.PatchHistory = append(s.PatchHistory, *p.AddPatch)
		changed = append(changed, "patch_history")
	}
	if p.AddCostUSD != nil && *p.AddCostUSD != 0 {
		s.TotalCostUSD += *p.AddCostUSD
		changed = append(changed, "total_cost_usd")
	}
	if p.Completed != nil && s.Completed != *p.Completed {
		s.Completed = *p.Completed
		changed = append(changed, "completed")
	}
	return changed
}

// HasPorts reports whether both ports are allocated. The pair is set
// together or not at all.
func (s *RunState) HasPorts() bool {
	return s.WSPort != 0 && s.FEPort != 0
}

// MissingShipFields returns the names of fields ship requires that are
// still unset, in a stable order.
func (s *RunState) MissingShipFields() []string {
	var missing []string
	check := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check(s.RunID != "", "run_id")
	check(s.IssueNumber != "", "issue_number")
	check(s.BranchName != "", "branch_name")
	check(s.PlanFile != "", "plan_file")
	check(s.IssueClass != "", "issue_class")
	check(s.WorktreePath != "", "worktree_path")
	check(s.WSPort != 0, "ws_port")
	check(s.FEPort != 0, "fe_port")
	return missing
}

// runIDAlphabet is base-36, matching what the port allocator decodes.
const runIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RunIDLength is the fixed run identifier length.
const RunIDLength = 8

// NewRunID generates an 8-character base-36 run identifier.
func NewRunID() string {
	buf := make([]byte, RunIDLength)
	max := big.NewInt(int64(len(runIDAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform is broken; there is
			// no reasonable fallback for identifier generation.
			panic(fmt.Sprintf("state: rand failed: %v", err))
		}
		buf[i] = runIDAlphabet[n.Int64()]
	}
	return string(buf)
}

// ValidRunID reports whether id is a well-formed run identifier.
func ValidRunID(id string) bool {
	if len(id) != RunIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}

// Ptr returns a pointer to v. Keeps Patch literals readable.
func Ptr[T any](v T) *T { return &v }

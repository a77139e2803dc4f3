package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/odyssey-dms/odyssey-dms/internal/platform/httpx"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
)

// PrincipalLookup resolves a user id into the principal checks run for.
type PrincipalLookup interface {
	Principal(ctx context.Context, userID int64) (rbac.Principal, error)
}

// RBACCLI answers permission questions for a single user from the terminal.
type RBACCLI struct {
	engine *rbac.Engine
	lookup PrincipalLookup
}

// NewRBACCLI constructs the diagnostics CLI.
func NewRBACCLI(engine *rbac.Engine, lookup PrincipalLookup) (*RBACCLI, error) {
	if engine == nil || lookup == nil {
		return nil, errors.New("rbac cli: engine and lookup are required")
	}
	return &RBACCLI{engine: engine, lookup: lookup}, nil
}

// CheckOptions defines the flags of the check command.
type CheckOptions struct {
	UserID      int64
	Permissions []string
	Module      string
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// CheckSummary is the JSON form of a check run.
type CheckSummary struct {
	UserID   int64               `json:"user_id"`
	Role     string              `json:"role"`
	ByModule map[string][]string `json:"by_module"`
	Module   *ModuleSummary      `json:"module,omitempty"`
	Verdicts []Verdict           `json:"verdicts"`
	Allowed  bool                `json:"allowed"`
}

// ModuleSummary reports module access for the -module flag.
type ModuleSummary struct {
	Name      string            `json:"name"`
	CanAccess bool              `json:"can_access"`
	Access    rbac.ModuleAccess `json:"access"`
}

// Verdict is the outcome for one permission name.
type Verdict struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// ParseCheckArgs parses `check` flags. Permission names may repeat -perm or
// be comma separated.
func ParseCheckArgs(args []string, stderr io.Writer) (CheckOptions, error) {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	if stderr != nil {
		fs.SetOutput(stderr)
	}
	var opts CheckOptions
	var perms multiFlag
	fs.Int64Var(&opts.UserID, "user", 0, "user id to evaluate")
	fs.Var(&perms, "perm", "permission name (repeatable, comma separated)")
	fs.StringVar(&opts.Module, "module", "", "module to report CRUD access for")
	fs.BoolVar(&opts.JSONOutput, "json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return CheckOptions{}, err
	}
	opts.Permissions = perms
	return opts, nil
}

// CheckCommand prints the user's role, permissions by module and a verdict
// per requested permission. It returns 0 when every permission is granted,
// 10 when any is denied and 1 on errors.
func (c *RBACCLI) CheckCommand(ctx context.Context, opts CheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.UserID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "rbac check: -user is required and must be positive")
		return 1
	}
	summary, err := c.check(ctx, opts)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			_, _ = fmt.Fprintf(opts.Stderr, "rbac check: user %d not found or inactive\n", opts.UserID)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stderr, "rbac check: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rbac check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderCheckHuman(opts.Stdout, summary)
	}
	if !summary.Allowed {
		return 10
	}
	return 0
}

func (c *RBACCLI) check(ctx context.Context, opts CheckOptions) (CheckSummary, error) {
	p, err := c.lookup.Principal(ctx, opts.UserID)
	if err != nil {
		return CheckSummary{}, err
	}
	byModule, err := c.engine.PermissionsByModule(ctx, p)
	if err != nil {
		return CheckSummary{}, err
	}
	summary := CheckSummary{
		UserID:   opts.UserID,
		Role:     c.engine.RoleName(ctx, p),
		ByModule: byModule,
		Verdicts: make([]Verdict, 0, len(opts.Permissions)),
		Allowed:  true,
	}
	for _, name := range opts.Permissions {
		ok, err := c.engine.HasPermission(ctx, p, name)
		if err != nil {
			return CheckSummary{}, err
		}
		summary.Verdicts = append(summary.Verdicts, Verdict{Permission: name, Allowed: ok})
		summary.Allowed = summary.Allowed && ok
	}
	if opts.Module != "" {
		canAccess, err := c.engine.CanAccessModule(ctx, p, opts.Module)
		if err != nil {
			return CheckSummary{}, err
		}
		access, err := c.engine.ModulePermissions(ctx, p, opts.Module)
		if err != nil {
			return CheckSummary{}, err
		}
		summary.Module = &ModuleSummary{Name: opts.Module, CanAccess: canAccess, Access: access}
	}
	return summary, nil
}

func renderCheckHuman(out io.Writer, s CheckSummary) {
	_, _ = fmt.Fprintf(out, "User %d: role %s\n", s.UserID, s.Role)
	modules := make([]string, 0, len(s.ByModule))
	for m := range s.ByModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	if len(modules) == 0 {
		_, _ = fmt.Fprintln(out, "No permissions granted.")
	}
	for _, m := range modules {
		_, _ = fmt.Fprintf(out, "  %s: %s\n", m, strings.Join(s.ByModule[m], ", "))
	}
	if s.Module != nil {
		a := s.Module.Access
		_, _ = fmt.Fprintf(out, "Module %s: access=%t view=%t create=%t edit=%t delete=%t\n",
			s.Module.Name, s.Module.CanAccess, a.CanView, a.CanCreate, a.CanEdit, a.CanDelete)
	}
	for _, v := range s.Verdicts {
		verdict := "DENY"
		if v.Allowed {
			verdict = "ALLOW"
		}
		_, _ = fmt.Fprintf(out, "%-5s %s\n", verdict, v.Permission)
	}
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*m = append(*m, part)
		}
	}
	return nil
}

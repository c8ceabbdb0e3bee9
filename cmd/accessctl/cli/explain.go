package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

// ExplainOptions selects the user and, optionally, the permission to test.
type ExplainOptions struct {
	UserID     int64
	Resource   string
	Action     string
	Module     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ExplainReport is the resolved view of one user's access.
type ExplainReport struct {
	UserID      int64               `json:"user_id"`
	Roles       map[string][]string `json:"roles"`
	Permissions []string            `json:"permissions"`
	Menus       []string            `json:"menus"`
	Check       *CheckResult        `json:"check,omitempty"`
}

// CheckResult reports a single permission decision.
type CheckResult struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// ExplainCLI resolves access straight from the repository, bypassing any cache.
type ExplainCLI struct {
	resolver *access.Resolver
}

// NewExplainCLI constructs the helper.
func NewExplainCLI(repo access.Repository) (*ExplainCLI, error) {
	if repo == nil {
		return nil, errors.New("explain cli: repository required")
	}
	return &ExplainCLI{resolver: access.NewResolver(repo, nil)}, nil
}

// Explain builds the report for opts.UserID.
func (c *ExplainCLI) Explain(ctx context.Context, opts ExplainOptions) (ExplainReport, error) {
	if opts.UserID <= 0 {
		return ExplainReport{}, fmt.Errorf("explain cli: invalid user id %d", opts.UserID)
	}
	report := ExplainReport{UserID: opts.UserID}

	roles, err := c.resolver.BuildUserRoleMatrix(ctx, opts.UserID)
	if err != nil {
		return ExplainReport{}, err
	}
	report.Roles = roles

	var perms access.PermissionSet
	if opts.Module != "" {
		perms, err = c.resolver.ResolveUserModulePermissions(ctx, opts.UserID, opts.Module)
	} else {
		perms, err = c.resolver.ResolveUserPermissions(ctx, opts.UserID)
	}
	if err != nil {
		return ExplainReport{}, err
	}
	for _, key := range perms.Keys() {
		report.Permissions = append(report.Permissions, key.String())
	}

	forest, err := c.resolver.ResolveUserMenuTree(ctx, opts.UserID)
	if err != nil {
		return ExplainReport{}, err
	}
	if opts.Module != "" {
		forest = forest.FilterModule(opts.Module)
	}
	report.Menus = menuPaths(forest, "")

	if opts.Resource != "" || opts.Action != "" {
		if opts.Resource == "" || opts.Action == "" {
			return ExplainReport{}, errors.New("explain cli: resource and action must be given together")
		}
		report.Check = &CheckResult{
			Permission: access.PermissionKey{Resource: opts.Resource, Action: opts.Action}.String(),
			Allowed:    perms.Has(opts.Resource, opts.Action),
		}
	}
	return report, nil
}

// ExplainCommand prints the report and returns a process exit code: 0 on success (and when a
// requested check is allowed), 2 when the check is denied, 1 on error.
func (c *ExplainCLI) ExplainCommand(ctx context.Context, opts ExplainOptions) int {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	report, err := c.Explain(ctx, opts)
	if err != nil {
		fmt.Fprintf(stderr, "explain: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stderr, "explain: %v\n", err)
			return 1
		}
	} else {
		writeText(stdout, report)
	}
	if report.Check != nil && !report.Check.Allowed {
		return 2
	}
	return 0
}

func writeText(w io.Writer, report ExplainReport) {
	fmt.Fprintf(w, "user %d\n", report.UserID)
	fmt.Fprintln(w, "roles:")
	for _, name := range slices.Sorted(maps.Keys(report.Roles)) {
		fmt.Fprintf(w, "  %s: %s\n", name, strings.Join(report.Roles[name], ", "))
	}
	fmt.Fprintf(w, "permissions: %s\n", strings.Join(report.Permissions, ", "))
	fmt.Fprintln(w, "menus:")
	for _, path := range report.Menus {
		fmt.Fprintf(w, "  %s\n", path)
	}
	if report.Check != nil {
		verdict := "DENY"
		if report.Check.Allowed {
			verdict = "ALLOW"
		}
		fmt.Fprintf(w, "check %s: %s\n", report.Check.Permission, verdict)
	}
}

func menuPaths(forest access.Forest, prefix string) []string {
	var out []string
	for _, node := range forest {
		label := prefix + node.Name
		out = append(out, label)
		out = append(out, menuPaths(access.Forest(node.Children), label+" / ")...)
	}
	return out
}

// Package remotepath builds normalised, absolute remote paths.
package remotepath

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/charlesng35/sftpgate/internal/sftp"
)

// TenantPlaceholder is replaced with the request tenant in root templates.
const TenantPlaceholder = "{tenantId}"

// ErrTraversal is returned for paths containing a ".." segment.
var ErrTraversal = fmt.Errorf("%w: path traversal is not allowed", sftp.ErrValidation)

// Join combines parts into an absolute forward-slash path. Blank parts, empty
// segments and "." are dropped, backslashes are treated as separators, and any
// ".." segment is rejected. Joining nothing yields "/".
func Join(parts ...string) (string, error) {
	var segments []string
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if strings.ContainsRune(part, 0) {
			return "", sftp.Validationf("path contains a NUL byte")
		}
		for _, segment := range strings.Split(strings.ReplaceAll(part, "\\", "/"), "/") {
			switch segment {
			case "", ".":
				continue
			case "..":
				return "", ErrTraversal
			}
			segments = append(segments, segment)
		}
	}
	return "/" + strings.Join(segments, "/"), nil
}

// Parent returns the directory containing p.
func Parent(p string) string {
	return path.Dir(p)
}

// Base returns the last element of p.
func Base(p string) string {
	return path.Base(p)
}

type tenantKey struct{}

// WithTenant attaches the tenant id used to expand root templates.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, strings.TrimSpace(tenantID))
}

// TenantFrom returns the tenant id attached to ctx.
func TenantFrom(ctx context.Context) (string, bool) {
	tenant, ok := ctx.Value(tenantKey{}).(string)
	return tenant, ok && tenant != ""
}

// ValidTenant reports whether id is safe to embed as a single path segment.
func ValidTenant(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Resolver maps caller-relative paths under the configured root directory.
type Resolver struct {
	rootTemplate string
}

// NewResolver returns a resolver rooted at rootTemplate. A blank template means "/".
func NewResolver(rootTemplate string) *Resolver {
	rootTemplate = strings.TrimSpace(rootTemplate)
	if rootTemplate == "" {
		rootTemplate = "/"
	}
	return &Resolver{rootTemplate: rootTemplate}
}

// RequiresTenant reports whether the root embeds the tenant placeholder.
func (r *Resolver) RequiresTenant() bool {
	return strings.Contains(r.rootTemplate, TenantPlaceholder)
}

// Root returns the expanded root directory for ctx.
func (r *Resolver) Root(ctx context.Context) (string, error) {
	root := r.rootTemplate
	if r.RequiresTenant() {
		tenant, ok := TenantFrom(ctx)
		if !ok {
			return "", sftp.Validationf("tenant id is required")
		}
		if !ValidTenant(tenant) {
			return "", sftp.Validationf("invalid tenant id %q", tenant)
		}
		root = strings.ReplaceAll(root, TenantPlaceholder, tenant)
	}
	return Join(root)
}

// Resolve joins parts beneath the root. When every part is blank the root itself is returned.
func (r *Resolver) Resolve(ctx context.Context, parts ...string) (string, error) {
	root, err := r.Root(ctx)
	if err != nil {
		return "", err
	}
	return Join(append([]string{root}, parts...)...)
}

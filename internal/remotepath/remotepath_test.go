package remotepath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sftpgate/internal/sftp"
)

func TestJoin(t *testing.T) {
	cases := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "skips blank parts", parts: []string{"root", "", "sub", "file.txt"}, want: "/root/sub/file.txt"},
		{name: "collapses separators", parts: []string{"/root/", "/sub//", "file.txt"}, want: "/root/sub/file.txt"},
		{name: "backslashes", parts: []string{`root\sub`, "file.txt"}, want: "/root/sub/file.txt"},
		{name: "dot segments", parts: []string{"/root/./sub", "."}, want: "/root/sub"},
		{name: "nothing", parts: nil, want: "/"},
		{name: "all blank", parts: []string{"", "  "}, want: "/"},
		{name: "root only", parts: []string{"/"}, want: "/"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Join(tc.parts...)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestJoinRejectsTraversal(t *testing.T) {
	for _, parts := range [][]string{
		{"root", "..", "etc"},
		{"/root/../../etc/passwd"},
		{`root\..\secret`},
	} {
		_, err := Join(parts...)
		require.ErrorIs(t, err, ErrTraversal)
		require.Equal(t, sftp.KindValidation, sftp.KindOf(err))
	}

	_, err := Join("bad\x00name")
	require.ErrorIs(t, err, sftp.ErrValidation)
}

func TestJoinKeepsDotsInsideNames(t *testing.T) {
	got, err := Join("root", "..hidden", "a..b.txt")
	require.NoError(t, err)
	require.Equal(t, "/root/..hidden/a..b.txt", got)
}

func TestResolver(t *testing.T) {
	resolver := NewResolver("/srv/data")
	ctx := context.Background()

	got, err := resolver.Resolve(ctx, "reports", "q1.csv")
	require.NoError(t, err)
	require.Equal(t, "/srv/data/reports/q1.csv", got)

	got, err = resolver.Resolve(ctx, "/absolute/looking")
	require.NoError(t, err)
	require.Equal(t, "/srv/data/absolute/looking", got)

	got, err = resolver.Resolve(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, "/srv/data", got)

	_, err = resolver.Resolve(ctx, "../outside")
	require.ErrorIs(t, err, ErrTraversal)

	require.False(t, resolver.RequiresTenant())
	got, err = NewResolver("").Resolve(ctx)
	require.NoError(t, err)
	require.Equal(t, "/", got)
}

func TestResolverTenantPlaceholder(t *testing.T) {
	resolver := NewResolver("/tenants/{tenantId}/files")
	require.True(t, resolver.RequiresTenant())

	ctx := WithTenant(context.Background(), "acme-01")
	got, err := resolver.Resolve(ctx, "a.txt")
	require.NoError(t, err)
	require.Equal(t, "/tenants/acme-01/files/a.txt", got)

	_, err = resolver.Resolve(context.Background(), "a.txt")
	require.ErrorIs(t, err, sftp.ErrValidation)

	for _, bad := range []string{"..", "a/b", "a b", "x\\y"} {
		_, err = resolver.Resolve(WithTenant(context.Background(), bad), "a.txt")
		require.ErrorIs(t, err, sftp.ErrValidation, bad)
	}
}

func TestParentAndBase(t *testing.T) {
	require.Equal(t, "/a/b", Parent("/a/b/c.txt"))
	require.Equal(t, "/", Parent("/c.txt"))
	require.Equal(t, "c.txt", Base("/a/b/c.txt"))
}

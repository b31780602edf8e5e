package caller

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFrameSplitsRuntimeSymbols(t *testing.T) {
	cases := []struct {
		function string
		pkg      string
		typ      string
		method   string
	}{
		{"github.com/acme/app/orders.(*Service).Place", "github.com/acme/app/orders", "Service", "Place"},
		{"github.com/acme/app/orders.(*Service).Place.func1", "github.com/acme/app/orders", "Service", "Place+func1"},
		{"github.com/acme/app/orders.Service.Total", "github.com/acme/app/orders", "Service", "Total"},
		{"github.com/acme/app/orders.Handle.func2.1", "github.com/acme/app/orders", "", "Handle+func2+1"},
		{"github.com/acme/app/orders.Run.gowrap1", "github.com/acme/app/orders", "", "Run+gowrap1"},
		{"github.com/acme/app/pool.(*Pool[...]).Get", "github.com/acme/app/pool", "Pool", "Get"},
		{"github.com/acme/app/pool.Borrow[...]", "github.com/acme/app/pool", "", "Borrow"},
		{"gopkg.in/yaml%2ev3.(*decoder).unmarshal", "gopkg.in/yaml.v3", "decoder", "unmarshal"},
		{"example.com/a.glob..func1", "example.com/a", "", "glob+func1"},
		{"github.com/acme/app/orders.glob..func2.1", "github.com/acme/app/orders", "", "glob+func2+1"},
		{"main.main", "main", "", "main"},
		{"runtime.goexit", "runtime", "", "goexit"},
	}
	for _, tc := range cases {
		t.Run(tc.function, func(t *testing.T) {
			f := NewFrame(tc.function, "x.go", 7)
			require.Equal(t, tc.pkg, f.Package)
			require.Equal(t, tc.typ, f.Type)
			require.Equal(t, tc.method, f.Method)
			require.True(t, f.Valid())
			require.Zero(t, f.Column)
		})
	}
}

func TestFrameNames(t *testing.T) {
	f := NewFrame("github.com/acme/app/orders.(*Service).Place.func1", "service.go", 12)
	require.Equal(t, "github.com/acme/app/orders.Service", f.QualifiedType())
	require.Equal(t, "github.com/acme/app/orders.Service.Place+func1", f.DisplayName())

	g := NewFrame("github.com/acme/app/orders.Handle", "handle.go", 3)
	require.Empty(t, g.QualifiedType())
	require.Equal(t, "github.com/acme/app/orders.Handle", g.DisplayName())

	require.False(t, NewFrame("", "", 0).Valid())
}

func TestPackagePrefixes(t *testing.T) {
	lib := PackagePrefixes("go.uber.org/zap/", " log/slog ", "")

	require.True(t, lib(NewFrame("go.uber.org/zap.(*Logger).Info", "", 0)))
	require.True(t, lib(NewFrame("go.uber.org/zap/zapcore.(*CheckedEntry).Write", "", 0)))
	require.True(t, lib(NewFrame("log/slog.(*Logger).log", "", 0)))
	require.False(t, lib(NewFrame("go.uber.org/zapper.Do", "", 0)))
	require.False(t, lib(NewFrame("github.com/acme/app.main", "", 0)))

	combined := Any(nil, lib, func(f Frame) bool { return f.Method == "special" })
	require.True(t, combined(NewFrame("github.com/acme/app.special", "", 0)))
	require.True(t, combined(NewFrame("log/slog.Info", "", 0)))
	require.False(t, combined(NewFrame("github.com/acme/app.main", "", 0)))
}

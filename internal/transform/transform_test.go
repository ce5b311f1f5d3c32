package transform

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
)

func TestReplaceVersion(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	got := string(ReplaceVersion([]byte(`<link href="app.css?v=ASSETS_VERSION"><script src="a.js?ASSETS_VERSION">`), "ASSETS_VERSION", ts))
	if strings.Contains(got, "ASSETS_VERSION") {
		t.Fatalf("token left in output: %s", got)
	}
	if strings.Count(got, "1700000000123") != 2 {
		t.Fatalf("expected both tokens replaced: %s", got)
	}
	if string(ReplaceVersion([]byte("x"), "", ts)) != "x" {
		t.Fatalf("empty token must be a no-op")
	}
}

func TestMinifyHTML(t *testing.T) {
	src := "<!DOCTYPE html>\n<html>\n  <body>\n    <!-- note -->\n    <p>hello     world</p>\n  </body>\n</html>\n"
	out, err := NewHTMLMinifier().Minify([]byte(src))
	if err != nil {
		t.Fatalf("minify: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "  ") || strings.Contains(s, "note") {
		t.Fatalf("whitespace or comment kept: %q", s)
	}
	if !strings.Contains(s, "hello world") || !strings.Contains(s, "</body>") {
		t.Fatalf("content lost: %q", s)
	}
}

func TestEngines(t *testing.T) {
	got := Engines([]string{"Chrome >= 60", "safari 12", "last 2 versions", "chrome 55", "> 1%", "netscape 4"})
	if len(got) != 2 {
		t.Fatalf("expected 2 engines, got %v", got)
	}
	if got[0].Name != api.EngineChrome || got[0].Version != "55" {
		t.Fatalf("expected lowest chrome version, got %+v", got[0])
	}
	if got[1].Name != api.EngineSafari || got[1].Version != "12" {
		t.Fatalf("unexpected safari engine %+v", got[1])
	}
	if compareVersions("10.1", "9.3") <= 0 {
		t.Fatalf("compareVersions is not numeric")
	}
}

func TestProgressiveCSS(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "app", "critical.css"), []byte("body{margin:0}"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := `<!DOCTYPE html><html><head><title>t</title>
<link rel="stylesheet" href="/app/critical.css?v=1" priority="critical">
<link rel="stylesheet" href="app/main.css?v=1">
<link rel="stylesheet" href="https://fonts.example.com/f.css">
<link rel="icon" href="favicon.ico">
</head><body><p>x</p></body></html>`
	out, err := ProgressiveCSS([]byte(src), base)
	if err != nil {
		t.Fatalf("progressive css: %v", err)
	}
	got := string(out)
	for _, want := range []string{
		"<style>body{margin:0}</style>",
		`<link rel="stylesheet" href="https://fonts.example.com/f.css"/>`,
		`<link rel="icon" href="favicon.ico"/>`,
		`<noscript><link rel="stylesheet" href="app/main.css?v=1"/></noscript>`,
		`["app/main.css?v=1"]`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %s in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "critical.css") {
		t.Fatalf("critical stylesheet link left in place:\n%s", got)
	}
	if head := got[:strings.Index(got, "</head>")]; strings.Contains(head, "main.css") {
		t.Fatalf("deferred stylesheet still blocks rendering:\n%s", got)
	}

	plain := []byte("<p>no styles</p>")
	if out, err := ProgressiveCSS(plain, base); err != nil || string(out) != string(plain) {
		t.Fatalf("documents without stylesheets must be untouched, got %q %v", out, err)
	}
	if _, err := ProgressiveCSS([]byte(`<link rel="stylesheet" href="missing.css" priority="critical">`), base); err == nil {
		t.Fatalf("expected error for a missing critical stylesheet")
	}
}

func TestProcessCSS(t *testing.T) {
	src := []byte(".a {\n  color: red;\n}\n")
	out, err := ProcessCSS(src, CSSOptions{Minify: true})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(string(out), ".a{color:red}") {
		t.Fatalf("expected minified css, got %q", out)
	}

	out, err = ProcessCSS(src, CSSOptions{SourceMap: true, Sourcefile: "a.scss"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(string(out), "sourceMappingURL=data:") {
		t.Fatalf("expected inline source map, got %q", out)
	}

	out, err = ProcessCSS([]byte(".b { user-select: none; }"), CSSOptions{Engines: Engines([]string{"safari 14"})})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(string(out), "-webkit-user-select") {
		t.Fatalf("expected vendor prefix, got %q", out)
	}
}

// inlineMap decodes the inline source map appended to css.
func inlineMap(t *testing.T, css []byte) string {
	t.Helper()
	s := string(css)
	i := strings.Index(s, "base64,")
	if i < 0 {
		t.Fatalf("no inline source map in %q", s)
	}
	data := s[i+len("base64,"):]
	if j := strings.Index(data, " "); j >= 0 {
		data = data[:j]
	}
	data = strings.TrimSuffix(strings.TrimSpace(data), "*/")
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatalf("decode source map: %v", err)
	}
	return string(b)
}

func TestProcessCSSChainsSassMap(t *testing.T) {
	scss := "$c: red;\n.a {\n  .b { color: $c; }\n}\n"
	sassMap := `{"version":3,"sources":["main.scss"],"sourcesContent":["` + strings.ReplaceAll(scss, "\n", `\n`) +
		`"],"names":[],"mappings":"AACA;AAAA;AACE"}`
	css := ".a .b {\n  color: red;\n}\n\n/*# sourceMappingURL=data:application/json;base64," +
		base64.StdEncoding.EncodeToString([]byte(sassMap)) + " */\n"

	out, err := ProcessCSS([]byte(css), CSSOptions{SourceMap: true, Sourcefile: "src/app/main.css"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	m := inlineMap(t, out)
	if !strings.Contains(m, "main.scss") || !strings.Contains(m, "$c: red;") {
		t.Fatalf("output map does not point at the sass source: %s", m)
	}
}

func TestSassArgs(t *testing.T) {
	s := NewSassCLI("", "/site/node_modules")
	if s.Bin != "sass" {
		t.Fatalf("unexpected default bin %q", s.Bin)
	}
	dev := strings.Join(s.args("main.scss", true), " ")
	if dev != "--embed-source-map --embed-sources --style=expanded --load-path /site/node_modules main.scss" {
		t.Fatalf("unexpected dev args %q", dev)
	}
	build := strings.Join(s.args("main.scss", false), " ")
	if build != "--no-source-map --style=expanded --load-path /site/node_modules main.scss" {
		t.Fatalf("unexpected build args %q", build)
	}
	if got := NewSassCLI("").LoadPaths; len(got) != 1 || got[0] != "node_modules" {
		t.Fatalf("unexpected default load paths %v", got)
	}
}

func TestEsbuildBundle(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("src/dep.js", "export const greet = (n) => `hi ${n}`;\n")
	write("src/main.js", "import { greet } from './dep.js';\nif (process.env.NODE_ENV !== 'production') console.log('dev');\nconsole.log(greet('x'));\n")

	res, err := Esbuild{}.Bundle(context.Background(), BundleOptions{
		Entries: []string{"src/main.js"},
		Outdir:  "dist/app",
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if !res.Success || res.Errors != 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	want := filepath.Join(dir, "dist", "app", "main.js")
	if len(res.Outputs) != 1 || res.Outputs[0] != want {
		t.Fatalf("unexpected outputs %v", res.Outputs)
	}
	body, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.Contains(string(body), "'dev'") || strings.Contains(string(body), `"dev"`) {
		t.Fatalf("production bundle kept dev branch: %s", body)
	}

	res, err = Esbuild{}.Bundle(context.Background(), BundleOptions{
		Entries: []string{"src/main.js"},
		Outdir:  "dist/dev",
		WorkDir: dir,
		Dev:     true,
	})
	if err != nil {
		t.Fatalf("bundle dev: %v", err)
	}
	body, _ = os.ReadFile(res.Outputs[0])
	if !strings.Contains(string(body), "sourceMappingURL=data:") {
		t.Fatalf("dev bundle has no inline source map")
	}
}

func TestEsbuildBundleErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "main.js"), []byte("const = ;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := Esbuild{}.Bundle(context.Background(), BundleOptions{
		Entries: []string{"src/main.js"},
		Outdir:  "dist",
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("compile errors must be a result, got %v", err)
	}
	if res.Success || res.Errors == 0 || res.Diagnostics == "" {
		t.Fatalf("expected failed result with diagnostics, got %+v", res)
	}
	if len(res.Outputs) != 0 {
		t.Fatalf("nothing should be emitted on errors")
	}
	if _, err := os.Stat(filepath.Join(dir, "dist", "main.js")); !os.IsNotExist(err) {
		t.Fatalf("output written despite errors")
	}

	if _, err := (Esbuild{}).Bundle(context.Background(), BundleOptions{Outdir: "dist"}); err == nil {
		t.Fatalf("expected invocation error without entries")
	}
}

func TestExternalToolFailure(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	_, err = NewSassCLI(bin).Compile(context.Background(), "a.scss", false)
	var ce *CompilationError
	if !errors.As(err, &ce) || ce.Tool != "sass" {
		t.Fatalf("expected sass compilation error, got %v", err)
	}

	err = NewCwebp(filepath.Join(t.TempDir(), "missing-cwebp")).Convert(context.Background(), "a.jpg", "a.webp")
	if err == nil || errors.As(err, &ce) {
		t.Fatalf("missing binary should be a plain error, got %v", err)
	}
}

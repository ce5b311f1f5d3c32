package transform

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

var engineNames = map[string]api.EngineName{
	"chrome":   api.EngineChrome,
	"and_chr":  api.EngineChrome,
	"edge":     api.EngineEdge,
	"firefox":  api.EngineFirefox,
	"ff":       api.EngineFirefox,
	"ie":       api.EngineIE,
	"ios":      api.EngineIOS,
	"ios_saf":  api.EngineIOS,
	"safari":   api.EngineSafari,
	"opera":    api.EngineOpera,
	"node":     api.EngineNode,
	"samsung":  api.EngineChrome,
	"android":  api.EngineChrome,
	"explorer": api.EngineIE,
}

// Engines translates a browserslist-style list into esbuild targets. Only
// explicit "<browser> <version>" and "<browser> >= <version>" queries can be
// translated; other queries ("last 2 versions", "> 1%") are skipped. When
// the same browser appears more than once the lowest version wins.
func Engines(browsers []string) []api.Engine {
	lowest := map[api.EngineName]string{}
	var order []api.EngineName
	for _, q := range browsers {
		name, version, ok := parseQuery(q)
		if !ok {
			log.Debug().Str("query", q).Msg("browser query not translatable to an esbuild target")
			continue
		}
		prev, seen := lowest[name]
		if !seen {
			order = append(order, name)
			lowest[name] = version
			continue
		}
		if compareVersions(version, prev) < 0 {
			lowest[name] = version
		}
	}
	out := make([]api.Engine, 0, len(order))
	for _, n := range order {
		out = append(out, api.Engine{Name: n, Version: lowest[n]})
	}
	return out
}

func parseQuery(q string) (api.EngineName, string, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(q)))
	if len(fields) == 3 && fields[1] == ">=" {
		fields = []string{fields[0], fields[2]}
	}
	if len(fields) != 2 {
		return 0, "", false
	}
	name, ok := engineNames[fields[0]]
	if !ok {
		return 0, "", false
	}
	v := fields[1]
	if v == "" || !(v[0] >= '0' && v[0] <= '9') {
		return 0, "", false
	}
	return name, v, true
}

// compareVersions compares dotted numeric versions.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x = atoi(as[i])
		}
		if i < len(bs) {
			y = atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

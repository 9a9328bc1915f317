package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatterns_DefaultTable(t *testing.T) {
	patterns, err := CompilePatterns(defaultPatternSources)
	require.NoError(t, err)
	require.Len(t, patterns, len(defaultPatternSources))

	byName := make(map[string]MalwarePattern, len(patterns))
	for _, p := range patterns {
		byName[p.Name] = p
	}

	tests := []struct {
		name   string
		sample string
	}{
		{"script-eval", `<script>var x=1; eval(y)</script>`},
		{"js-eval-atob", `eval(atob("YWxlcnQoMSk="))`},
		{"powershell-encoded", `powershell.exe -NoP -enc SQBFAFgAIAAoAE4AZQB3AC0A`},
		{"cmd-exec", `cmd.exe /c del *`},
		{"php-webshell", `<?php eval(base64_decode($_POST['x']));`},
		{"pdf-javascript", `<< /S /JavaScript >>`},
		{"pdf-launch-action", `<< /S /Launch >>`},
		{"pdf-open-action", `<< /OpenAction 3 0 R >>`},
		{"office-macro", `xl/vbaProject.bin`},
	}
	require.Len(t, tests, len(defaultPatternSources), "every default pattern needs a sample")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := byName[tt.name]
			require.True(t, ok)
			assert.True(t, p.Re.MatchString(tt.sample))
		})
	}
}

func TestCompilePatterns_LongScriptPrefix(t *testing.T) {
	p, err := CompilePatterns([]PatternSource{defaultPatternSources[0]})
	require.NoError(t, err)

	near := "<script>" + strings.Repeat("a", 900) + " eval(x)</script>"
	assert.True(t, p[0].Re.MatchString(near))
	far := "<script>" + strings.Repeat("a", 1200) + " eval(x)</script>"
	assert.False(t, p[0].Re.MatchString(far))
}

func TestCompilePatterns_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  PatternSource
	}{
		{"repeat over limit", PatternSource{Name: "wide", Expr: `a{0,2000}`}},
		{"unbalanced", PatternSource{Name: "open", Expr: `(abc`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompilePatterns([]PatternSource{{Name: "ok", Expr: `ok`}, tt.src})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.src.Name)
		})
	}
}

func TestDefaultPatterns_Cached(t *testing.T) {
	first := DefaultPatterns()
	second := DefaultPatterns()
	require.NotEmpty(t, first)
	assert.Same(t, first[0].Re, second[0].Re)
}

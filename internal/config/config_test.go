package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttribute(t *testing.T) {
	attr, err := ParseAttribute("spam.score=spam_score")
	require.NoError(t, err)
	assert.Equal(t, "spam.score", attr.Name)
	assert.Equal(t, "spam_score", attr.Expression)
}

func TestParseAttribute_WithEquals(t *testing.T) {
	// Only the first = separates name from expression
	attr, err := ParseAttribute(`local=status == "relayed"`)
	require.NoError(t, err)
	assert.Equal(t, "local", attr.Name)
	assert.Equal(t, `status == "relayed"`, attr.Expression)
}

func TestParseAttributeString_Valid(t *testing.T) {
	attrStr := `from=from;deploy=env["DEPLOY"];relay=relay`
	attrs, err := ParseAttributeString(attrStr)

	require.NoError(t, err)
	require.Len(t, attrs, 3)
	assert.Equal(t, "from", attrs[0].Name)
	assert.Equal(t, "from", attrs[0].Expression)
	assert.Equal(t, "deploy", attrs[1].Name)
	assert.Equal(t, `env["DEPLOY"]`, attrs[1].Expression)
	assert.Equal(t, "relay", attrs[2].Name)
	assert.Equal(t, "relay", attrs[2].Expression)
}

func TestParseAttributeString_Empty(t *testing.T) {
	attrs, err := ParseAttributeString("")
	require.NoError(t, err)
	assert.Nil(t, attrs)

	attrs, err = ParseAttributeString("   ")
	require.NoError(t, err)
	assert.Nil(t, attrs)
}

func TestParseAttributeString_InvalidFormat(t *testing.T) {
	_, err := ParseAttributeString("invalid_no_equals")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid attribute format")
}

func TestParseAttributeString_EmptyName(t *testing.T) {
	_, err := ParseAttributeString("=value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name cannot be empty")
}

func TestParseAttributeString_EmptyExpression(t *testing.T) {
	_, err := ParseAttributeString("name=")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expression cannot be empty")
}

func TestParseAttributeString_Whitespace(t *testing.T) {
	attrs, err := ParseAttributeString("  foo  =  bar  ;  baz  =  qux  ")

	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "foo", attrs[0].Name)
	assert.Equal(t, "bar", attrs[0].Expression)
	assert.Equal(t, "baz", attrs[1].Name)
	assert.Equal(t, "qux", attrs[1].Expression)
}

func TestParseAttributeString_EmptySections(t *testing.T) {
	attrs, err := ParseAttributeString("foo=bar;;baz=qux;")

	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "foo", attrs[0].Name)
	assert.Equal(t, "baz", attrs[1].Name)
}

func TestParseEnvConfig(t *testing.T) {
	t.Setenv("POSTFIX_TRACER_INPUT", "/var/log/mail.log")
	t.Setenv("POSTFIX_TRACER_REPORT", "summary,otel")
	t.Setenv("POSTFIX_TRACER_FILTER", `status == "spam"`)
	t.Setenv("POSTFIX_TRACER_ATTRIBUTES", "key=value")
	t.Setenv("POSTFIX_TRACER_REMOVAL", "all")
	t.Setenv("POSTFIX_TRACER_RETAIN_LINES", "50")
	t.Setenv("POSTFIX_TRACER_MAX_TRANSACTIONS", "10")
	t.Setenv("POSTFIX_TRACER_METRICS_ADDR", ":9154")
	t.Setenv("POSTFIX_TRACER_LOG_FORMAT", "json")

	cfg, err := ParseEnvConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/log/mail.log", cfg.Input)
	assert.Equal(t, "summary,otel", cfg.Report)
	assert.Equal(t, `status == "spam"`, cfg.Filter)
	assert.Equal(t, "key=value", cfg.Attributes)
	assert.Equal(t, "all", cfg.Removal)
	assert.Equal(t, uint64(50), cfg.RetainLines)
	assert.Equal(t, 10, cfg.MaxTransactions)
	assert.Equal(t, ":9154", cfg.MetricsAddr)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestParseEnvConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"POSTFIX_TRACER_INPUT", "POSTFIX_TRACER_REPORT", "POSTFIX_TRACER_REMOVAL",
		"POSTFIX_TRACER_RETAIN_LINES", "POSTFIX_TRACER_SWEEP_EVERY", "POSTFIX_TRACER_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := ParseEnvConfig()
	require.NoError(t, err)
	assert.Equal(t, "-", cfg.Input)
	assert.Equal(t, "summary", cfg.Report)
	assert.Equal(t, "mark", cfg.Removal)
	assert.Equal(t, uint64(1000), cfg.RetainLines)
	assert.Equal(t, uint64(1000), cfg.SweepEvery)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParseEnvConfig_BadNumber(t *testing.T) {
	t.Setenv("POSTFIX_TRACER_RETAIN_LINES", "many")

	_, err := ParseEnvConfig()
	assert.Error(t, err)
}

func TestNew_AttributesMerge(t *testing.T) {
	// Environment attributes come first, CLI attributes are appended
	envCfg := &EnvConfig{Input: "-", Report: "summary", Attributes: "env_attr=env_val"}

	cfg, err := New(envCfg, []string{"cli_attr=cli_val"})
	require.NoError(t, err)
	require.Len(t, cfg.CustomAttributes, 2)
	assert.Equal(t, "env_attr", cfg.CustomAttributes[0].Name)
	assert.Equal(t, "cli_attr", cfg.CustomAttributes[1].Name)
}

func TestNew_InvalidAttributes(t *testing.T) {
	_, err := New(&EnvConfig{Input: "-", Report: "summary", Attributes: "broken"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTFIX_TRACER_ATTRIBUTES")

	_, err = New(&EnvConfig{Input: "-", Report: "summary"}, []string{"=x"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{EnvConfig: EnvConfig{Input: "-", Report: "json"}}, ""},
		{"no input", Config{EnvConfig: EnvConfig{Report: "json"}}, "input cannot be empty"},
		{"no report", Config{EnvConfig: EnvConfig{Input: "-"}}, "report cannot be empty"},
		{"negative capacity", Config{EnvConfig: EnvConfig{Input: "-", Report: "json", MaxTransactions: -1}}, "must not be negative"},
		{
			"duplicate attribute",
			Config{
				EnvConfig:        EnvConfig{Input: "-", Report: "json"},
				CustomAttributes: []CustomAttribute{{"a", "from"}, {"a", "to"}},
			},
			"duplicate attribute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("POSTFIX_TRACER_REPORT=json\nPOSTFIX_TRACER_LOG_LEVEL=debug\n"), 0o600))

	// Already-set variables win over the file
	t.Setenv("POSTFIX_TRACER_LOG_LEVEL", "warn")
	t.Setenv("POSTFIX_TRACER_REPORT", "")
	require.NoError(t, os.Unsetenv("POSTFIX_TRACER_REPORT"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))

	cfg, err := ParseEnvConfig()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Report)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadDotEnv_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BAD-KEY=1\n"), 0o600))

	assert.Error(t, LoadDotEnv(path))
}

func TestOTELConfig_GetEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  OTELConfig
		want string
	}{
		{"default", OTELConfig{}, "localhost:4318"},
		{"exporter", OTELConfig{ExporterEndpoint: "collector:4318"}, "collector:4318"},
		{"traces wins", OTELConfig{ExporterEndpoint: "a:1", TracesEndpoint: "b:2"}, "b:2"},
		{"scheme stripped", OTELConfig{ExporterEndpoint: "http://collector:4318/"}, "collector:4318"},
		{"path dropped", OTELConfig{TracesEndpoint: "https://collector:4318/v1/traces"}, "collector:4318"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetEndpoint())
		})
	}
}

func TestOTELConfig_EndpointURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  OTELConfig
		want string
	}{
		{"default", OTELConfig{}, ""},
		{"bare host", OTELConfig{ExporterEndpoint: "collector:4318"}, ""},
		{"traces url as is", OTELConfig{TracesEndpoint: "http://host:4318/v1/traces"}, "http://host:4318/v1/traces"},
		{"custom traces path", OTELConfig{TracesEndpoint: "https://host/otlp/traces"}, "https://host/otlp/traces"},
		{"base url gets signal path", OTELConfig{ExporterEndpoint: "https://collector:4318/"}, "https://collector:4318/v1/traces"},
		{"traces wins", OTELConfig{ExporterEndpoint: "https://a:1", TracesEndpoint: "http://b:2/v1/traces"}, "http://b:2/v1/traces"},
		{"bare traces wins over base url", OTELConfig{ExporterEndpoint: "https://a:1", TracesEndpoint: "b:2"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.EndpointURL())
		})
	}
}

func TestOTELConfig_ParseResourceAttributes(t *testing.T) {
	cfg := OTELConfig{ResourceAttributes: "deployment.environment=prod, host.name = mx1 ,broken,=x"}

	attrs := cfg.ParseResourceAttributes()
	require.Len(t, attrs, 2)
	assert.Equal(t, "deployment.environment", string(attrs[0].Key))
	assert.Equal(t, "prod", attrs[0].Value.AsString())
	assert.Equal(t, "host.name", string(attrs[1].Key))
	assert.Equal(t, "mx1", attrs[1].Value.AsString())

	assert.Nil(t, (&OTELConfig{}).ParseResourceAttributes())
}

func TestParseOTELConfig_Defaults(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	require.NoError(t, os.Unsetenv("OTEL_SERVICE_NAME"))

	cfg, err := ParseOTELConfig()
	require.NoError(t, err)
	assert.Equal(t, "postfix-tracer", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
}

package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/smart-mcp-proxy/mcpgateway/internal/secret"
)

// minResolvedSecretLen is the shortest resolved value masked verbatim
const minResolvedSecretLen = 8

// SecretSanitizer wraps a zapcore.Core to mask credentials in log messages
// and string fields: values resolved from secret references plus well-known
// token shapes.
type SecretSanitizer struct {
	zapcore.Core
	patterns []*secretPattern
	resolved *sync.Map // resolved secret value -> struct{}
}

type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		patterns: defaultPatterns(),
		resolved: &sync.Map{},
	}
}

func defaultPatterns() []*secretPattern {
	return []*secretPattern{
		{
			name:  "github_token",
			regex: regexp.MustCompile(`\b(gh[poushr]_[A-Za-z0-9]{36,255})\b`),
			maskFunc: func(token string) string {
				return token[:7] + "***" + token[len(token)-2:]
			},
		},
		{
			name:  "bearer_token",
			regex: regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-\._~\+\/]+=*`),
			maskFunc: func(token string) string {
				parts := strings.Fields(token)
				if len(parts) != 2 || len(parts[1]) <= 6 {
					return "Bearer ****"
				}
				return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
			},
		},
		{
			name:  "aws_key",
			regex: regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
			maskFunc: func(key string) string {
				return key[:8] + "***" + key[len(key)-2:]
			},
		},
		{
			name:  "jwt",
			regex: regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
			maskFunc: func(jwt string) string {
				parts := strings.Split(jwt, ".")
				if len(parts) != 3 || len(parts[2]) < 4 {
					return "****"
				}
				return parts[0] + ".***." + parts[2][len(parts[2])-4:]
			},
		},
	}
}

// RegisterResolvedSecret records a value resolved from the keyring or the
// environment so it is masked wherever it appears. Short values are ignored.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < minResolvedSecretLen {
		return
	}
	s.resolved.Store(value, struct{}{})
}

// UnregisterResolvedSecret removes a value from the mask set
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.resolved.Delete(value)
}

func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str
	s.resolved.Range(func(key, _ any) bool {
		value := key.(string)
		if strings.Contains(result, value) {
			result = strings.ReplaceAll(result, value, secret.MaskValue(value))
		}
		return true
	})
	for _, p := range s.patterns {
		result = p.regex.ReplaceAllStringFunc(result, p.maskFunc)
	}
	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)
	return s.Core.Write(entry, s.sanitizeFields(fields))
}

func (s *SecretSanitizer) sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		out[i] = s.sanitizeField(field)
	}
	return out
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitizeString(string(b)))
		}
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			original := err.Error()
			if sanitized := s.sanitizeString(original); sanitized != original {
				return zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: sanitized}
			}
		}
	case zapcore.StringerType:
		if stringer, ok := field.Interface.(interface{ String() string }); ok {
			original := stringer.String()
			if sanitized := s.sanitizeString(original); sanitized != original {
				return zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: sanitized}
			}
		}
	}
	return field
}

// With creates a sanitizing child core sharing the resolved set
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &SecretSanitizer{
		Core:     s.Core.With(s.sanitizeFields(fields)),
		patterns: s.patterns,
		resolved: s.resolved,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return ce.AddCore(entry, s)
	}
	return ce
}

package macro

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/asakaida/rowguard/internal/entities"
)

// forbiddenKeywords may not appear as whole tokens in a macro query
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT",
	"DROP", "ALTER", "CREATE", "TRUNCATE", "RENAME",
	"GRANT", "REVOKE", "COPY", "EXECUTE", "EXEC", "CALL", "DO",
	"VACUUM", "ANALYZE", "REINDEX", "CLUSTER", "LOCK", "COMMENT",
	"SET", "RESET", "INTO", "LISTEN", "NOTIFY", "PREPARE", "DEALLOCATE",
}

var (
	forbiddenPattern   = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenKeywords, "|") + `)\b`)
	selectPattern      = regexp.MustCompile(`(?i)^SELECT\b`)
	placeholderPattern = regexp.MustCompile(`\$(\d+)`)
)

// Validate checks a macro definition: a valid, non-reserved name, unique
// identifier parameters, and a single read-only SELECT whose placeholders
// refer to declared parameters. Every problem is reported.
func Validate(m *entities.Macro) error {
	var result *multierror.Error

	switch {
	case !entities.IsIdentifier(m.Name):
		result = multierror.Append(result, fmt.Errorf("name %q is not a valid identifier", m.Name))
	case IsTextMacro(m.Name) || IsPredicate(m.Name):
		result = multierror.Append(result, fmt.Errorf("name %q is reserved for a built-in macro", m.Name))
	case contextRoots[m.Name]:
		result = multierror.Append(result, fmt.Errorf("name %q is reserved for a context reference", m.Name))
	}

	seen := make(map[string]bool, len(m.Parameters))
	for _, p := range m.Parameters {
		if !entities.IsIdentifier(p) {
			result = multierror.Append(result, fmt.Errorf("parameter %q is not a valid identifier", p))
		}
		if seen[p] {
			result = multierror.Append(result, fmt.Errorf("parameter %q is declared twice", p))
		}
		seen[p] = true
	}

	for _, err := range validateQuery(m.SQLQuery, len(m.Parameters)) {
		result = multierror.Append(result, err)
	}

	if result.ErrorOrNil() == nil {
		return nil
	}
	return &ValidationError{Name: m.Name, Errors: result}
}

func validateQuery(query string, params int) []error {
	query = strings.TrimSpace(query)
	if query == "" {
		return []error{fmt.Errorf("sql query is required")}
	}

	var errs []error

	body := strings.TrimSpace(strings.TrimSuffix(query, ";"))
	if strings.Contains(body, ";") {
		errs = append(errs, fmt.Errorf("sql query must be a single statement"))
	}
	if strings.Contains(body, "--") || strings.Contains(body, "/*") {
		errs = append(errs, fmt.Errorf("sql query must not contain comments"))
	}
	if !selectPattern.MatchString(body) {
		errs = append(errs, fmt.Errorf("sql query must begin with SELECT"))
	}

	found := map[string]bool{}
	for _, kw := range forbiddenPattern.FindAllString(body, -1) {
		kw = strings.ToUpper(kw)
		if !found[kw] {
			found[kw] = true
			errs = append(errs, fmt.Errorf("sql query must not contain %s", kw))
		}
	}

	for _, match := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > params {
			errs = append(errs, fmt.Errorf("placeholder $%s does not match a declared parameter", match[1]))
		}
	}

	return errs
}

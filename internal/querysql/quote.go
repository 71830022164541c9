package querysql

import (
	"fmt"
	"strings"
)

// quoteIdent returns the identifier bare when it is plain, otherwise
// backtick-quoted with backticks and backslashes escaped.
func quoteIdent(name string) string {
	if plainIdentifier.MatchString(name) {
		return name
	}
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return "`" + r.Replace(name) + "`"
}

// quoteString renders a BigQuery string literal.
func quoteString(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		"'", "\\'",
		"\n", "\\n",
		"\r", "\\r",
		"\t", "\\t",
	)
	return "'" + r.Replace(s) + "'"
}

// TablePath renders `dataset.table`. The dataset may be project-qualified
// ("project.dataset"). Backticks are rejected rather than escaped because a
// path element can never legitimately contain one.
func TablePath(dataset, table string) (string, error) {
	if dataset == "" || table == "" {
		return "", fmt.Errorf("table reference needs dataset and table")
	}
	path := dataset + "." + table
	if strings.ContainsAny(path, "`\\\n") {
		return "", fmt.Errorf("invalid table reference %q", path)
	}
	return "`" + path + "`", nil
}

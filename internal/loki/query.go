package loki

import "fmt"

// AuditQuery selects audit lines of app in namespace, excluding anonymous requests.
func AuditQuery(app, namespace string) string {
	return fmt.Sprintf("{app=%q} | logfmt | namespace = `%s` | username != `-`", app, namespace)
}

package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key builds a normalized cache key from a request's method, path and
// query. Query parameters are sorted so equivalent URLs written in a
// different order share an entry.
func Key(method, path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)

	if len(query) > 0 {
		names := make([]string, 0, len(query))
		for name := range query {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteByte('?')
		for i, name := range names {
			values := append([]string(nil), query[name]...)
			sort.Strings(values)
			for j, v := range values {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(name))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

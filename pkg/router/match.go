package router

import "strings"

// matchPath matches a request path against a declared pattern with {param}
// segments, returning captured parameters. A trailing slash on either side is
// ignored.
func matchPath(pattern, path string) (map[string]string, bool) {
	pseg := splitPath(pattern)
	rseg := splitPath(path)
	if len(pseg) != len(rseg) {
		return nil, false
	}
	params := map[string]string{}
	for i, ps := range pseg {
		if name, ok := paramName(ps); ok {
			params[name] = rseg[i]
			continue
		}
		if ps != rseg[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func paramName(segment string) (string, bool) {
	if len(segment) > 2 && segment[0] == '{' && segment[len(segment)-1] == '}' {
		return segment[1 : len(segment)-1], true
	}
	return "", false
}

// moreSpecific reports whether pattern a beats pattern b: at the first
// position where one has a static segment and the other a parameter, the
// static one wins. Equal specificity keeps declaration order.
func moreSpecific(a, b string) bool {
	as, bs := splitPath(a), splitPath(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		_, aParam := paramName(as[i])
		_, bParam := paramName(bs[i])
		if aParam != bParam {
			return bParam
		}
	}
	return false
}

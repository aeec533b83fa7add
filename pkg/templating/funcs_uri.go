package templating

import (
	"net"
	"net/url"
	"path"
	"strings"
)

func uriFuncs() []FunctionEntry {
	return []FunctionEntry{
		pure("urlScheme", 1, 1, urlPart("urlScheme", func(u *url.URL) any { return u.Scheme })),
		pure("urlHost", 1, 1, urlPart("urlHost", func(u *url.URL) any { return u.Hostname() })),
		pure("urlPort", 1, 1, urlPart("urlPort", func(u *url.URL) any { return u.Port() })),
		pure("urlPath", 1, 1, urlPart("urlPath", func(u *url.URL) any { return u.Path })),
		pure("urlQuery", 1, 1, urlPart("urlQuery", func(u *url.URL) any { return u.RawQuery })),
		pure("urlFragment", 1, 1, urlPart("urlFragment", func(u *url.URL) any { return u.Fragment })),
		pure("urlQueryParam", 2, 2, urlQueryParam),
		pure("urlNormalize", 1, 1, urlNormalize),
		pure("urlJoin", 2, 2, urlJoin),
		pure("urlEncode", 1, 1, stringMap(url.QueryEscape)),
		pure("urlDecode", 1, 1, urlDecode),
		pure("pathEscape", 1, 1, stringMap(url.PathEscape)),
		pure("isAbsURL", 1, 1, func(args []any) (any, error) {
			u, err := url.Parse(toString(args[0]))
			return err == nil && u.IsAbs(), nil
		}),
		pure("pathBase", 1, 1, stringMap(path.Base)),
		pure("pathDir", 1, 1, stringMap(path.Dir)),
		pure("pathExt", 1, 1, stringMap(path.Ext)),
		pure("pathClean", 1, 1, stringMap(path.Clean)),
		pure("pathJoin", 1, -1, func(args []any) (any, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = toString(a)
			}
			return path.Join(parts...), nil
		}),
	}
}

func parseURL(fn string, v any) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(toString(v)))
	if err != nil {
		return nil, invalidArg(fn, "%v", err)
	}
	return u, nil
}

func urlPart(name string, fn func(*url.URL) any) Func {
	return func(args []any) (any, error) {
		u, err := parseURL(name, args[0])
		if err != nil {
			return nil, err
		}
		return fn(u), nil
	}
}

func urlQueryParam(args []any) (any, error) {
	u, err := parseURL("urlQueryParam", args[1])
	if err != nil {
		return nil, err
	}
	return u.Query().Get(toString(args[0])), nil
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// urlNormalize lower-cases the scheme and host, drops default ports, cleans
// the path (keeping a trailing slash) and sorts query parameters.
func urlNormalize(args []any) (any, error) {
	u, err := parseURL("urlNormalize", args[0])
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host, port := strings.ToLower(u.Hostname()), u.Port()
	if port != "" && defaultPorts[u.Scheme] != port {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u.Host = host
	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if strings.HasSuffix(u.Path, "/") && cleaned != "/" {
			cleaned += "/"
		}
		u.Path = cleaned
		u.RawPath = ""
	} else if u.Host != "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

func urlJoin(args []any) (any, error) {
	base, err := parseURL("urlJoin", args[0])
	if err != nil {
		return nil, err
	}
	ref, err := parseURL("urlJoin", args[1])
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(ref).String(), nil
}

func urlDecode(args []any) (any, error) {
	s, err := url.QueryUnescape(toString(args[0]))
	if err != nil {
		return nil, invalidArg("urlDecode", "%v", err)
	}
	return s, nil
}

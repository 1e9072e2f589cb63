// Package command defines the privileged command requests handled by opsgate.
// A Request is built once by a frontend and never modified afterwards; every
// later stage (safety filter, audit log, confirmation gate, backend) reads it.
package command

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Kind identifies which backend a request targets.
type Kind string

// Supported command kinds. The string values appear in the audit log.
const (
	KindShell    Kind = "shell"
	KindSSH      Kind = "ssh"
	KindHTTPGet  Kind = "http_get"
	KindHTTPPost Kind = "http_post"
)

// Parameter names understood by the backends.
const (
	ParamCommand  = "command"
	ParamHost     = "host"
	ParamUsername = "username"
	ParamPassword = "password" //nolint:gosec // G101: parameter name, not a credential
	ParamURL      = "url"
	ParamBody     = "body"
)

// LocalTarget is the audit target recorded for local shell commands.
const LocalTarget = "local"

// Kinds returns all supported kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindShell, KindSSH, KindHTTPGet, KindHTTPPost}
}

// ParseKind parses a kind name. Dashes are accepted in place of underscores
// so that "http-get" (CLI spelling) and "http_get" (audit spelling) both work.
func ParseKind(s string) (Kind, error) {
	normalized := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, k := range Kinds() {
		if k == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown command kind %q", s)
}

// required lists the parameters each kind cannot run without.
var required = map[Kind][]string{
	KindShell:    {ParamCommand},
	KindSSH:      {ParamHost, ParamUsername, ParamCommand},
	KindHTTPGet:  {ParamURL},
	KindHTTPPost: {ParamURL},
}

// Params holds the named string parameters of a request.
type Params map[string]string

// Get returns a parameter with surrounding whitespace removed. The POST body
// and the password are returned verbatim.
func (p Params) Get(name string) string {
	if name == ParamBody || name == ParamPassword {
		return p[name]
	}
	return strings.TrimSpace(p[name])
}

// clone returns a copy of p that shares no storage with it.
func (p Params) clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Redacted returns a copy of p with the password replaced, suitable for logging.
func (p Params) Redacted() Params {
	out := p.clone()
	if _, ok := out[ParamPassword]; ok {
		out[ParamPassword] = "[REDACTED]"
	}
	return out
}

// String renders the redacted parameters as sorted key=value pairs.
func (p Params) String() string {
	r := p.Redacted()
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, r[k]))
	}
	return strings.Join(parts, " ")
}

// Request is a single privileged command attempt.
type Request struct {
	Kind        Kind
	Params      Params
	RequesterID string
	ContextID   string
}

// NewRequest builds a Request, copying params so later changes by the caller
// cannot affect it.
func NewRequest(kind Kind, params Params, requesterID, contextID string) Request {
	if contextID == "" {
		contextID = "0"
	}
	return Request{
		Kind:        kind,
		Params:      params.clone(),
		RequesterID: requesterID,
		ContextID:   contextID,
	}
}

// Validate checks that the kind is known and all required parameters are set.
func (r Request) Validate() error {
	fields, ok := required[r.Kind]
	if !ok {
		return fmt.Errorf("unknown command kind %q", r.Kind)
	}
	for _, name := range fields {
		if r.Params.Get(name) == "" {
			return fmt.Errorf("missing required parameter %q for %s", name, r.Kind)
		}
	}
	if r.Kind == KindHTTPGet || r.Kind == KindHTTPPost {
		u, err := url.Parse(r.Params.Get(ParamURL))
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid url %q: scheme must be http or https", RedactURL(r.Params.Get(ParamURL)))
		}
		if u.Host == "" {
			return fmt.Errorf("invalid url %q: missing host", RedactURL(r.Params.Get(ParamURL)))
		}
	}
	return nil
}

// Target returns the audit target of the request: "local" for shell commands,
// the host for SSH, and the URL (with any password removed) for HTTP.
func (r Request) Target() string {
	switch r.Kind {
	case KindShell:
		return LocalTarget
	case KindSSH:
		return r.Params.Get(ParamHost)
	case KindHTTPGet, KindHTTPPost:
		return RedactURL(r.Params.Get(ParamURL))
	default:
		return ""
	}
}

// Description returns the confirmation prompt text describing exactly what
// will run.
func (r Request) Description() string {
	switch r.Kind {
	case KindShell:
		return fmt.Sprintf("Are you sure you want to execute this shell command?\n`%s`", r.Params.Get(ParamCommand))
	case KindSSH:
		return fmt.Sprintf("Execute SSH command on `%s` as `%s`?\n`%s`",
			r.Params.Get(ParamHost), r.Params.Get(ParamUsername), r.Params.Get(ParamCommand))
	case KindHTTPGet:
		return fmt.Sprintf("Execute HTTP GET on `%s`?", r.Target())
	case KindHTTPPost:
		return fmt.Sprintf("Execute HTTP POST on `%s`?", r.Target())
	default:
		return fmt.Sprintf("Execute %s?", r.Kind)
	}
}

// WithoutSecrets returns a copy of r whose params no longer reference the
// password.
func (r Request) WithoutSecrets() Request {
	out := r
	out.Params = r.Params.clone()
	delete(out.Params, ParamPassword)
	return out
}

// RedactURL removes the password from URL user-info. Unparseable input is
// returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

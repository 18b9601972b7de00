package tools

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-platform/praxis/pkg/fault"
)

// BuiltinOptions wires the built-in tool families. Workspace is required;
// the search and query backends are optional and degrade to empty results
// so the contract holds without external services.
type BuiltinOptions struct {
	Workspace *Workspace

	// AllowShell enables the gated shell-exec tool.
	AllowShell bool

	// Search backs the web-search tool.
	Search func(ctx context.Context, query string, maxResults int) ([]map[string]any, error)

	// Query backs the database-query tool.
	Query func(ctx context.Context, query string) ([]map[string]any, error)

	// HTTPClient backs web-fetch; defaults to a 30s-timeout client.
	HTTPClient *http.Client
}

const grepMatchCap = 200

// RegisterBuiltins registers the built-in tool families on the catalog.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	if opts.Workspace == nil {
		return fault.New(fault.CodeValidation, "builtin tools require a workspace")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	builtins := []*Tool{
		fileReadTool(opts.Workspace),
		fileWriteTool(opts.Workspace),
		fileEditTool(opts.Workspace),
		multiFileEditTool(opts.Workspace),
		fileGlobTool(opts.Workspace),
		fileGrepTool(opts.Workspace),
		webFetchTool(opts.HTTPClient),
		webSearchTool(opts.Search),
		databaseQueryTool(opts.Query),
		taskListTool(),
	}
	if opts.AllowShell {
		builtins = append(builtins, shellExecTool(opts.Workspace))
	}

	for _, tool := range builtins {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func fileReadTool(ws *Workspace) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "file-read",
			Description: "Read a file inside the workspace",
			Category:    "file",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"path"},
				"properties": map[string]any{
					"path":   map[string]any{"type": "string"},
					"offset": map[string]any{"type": "integer", "minimum": 0},
					"limit":  map[string]any{"type": "integer", "minimum": 1},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			path, err := ws.Resolve(stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "read %s", path)
			}
			lines := strings.Split(string(data), "\n")
			offset := intArg(args, "offset", 0)
			limit := intArg(args, "limit", len(lines))
			if offset > len(lines) {
				offset = len(lines)
			}
			end := offset + limit
			if end > len(lines) {
				end = len(lines)
			}
			return &ExecResult{Output: map[string]any{
				"content":     strings.Join(lines[offset:end], "\n"),
				"total_lines": len(lines),
			}}, nil
		},
	}
}

func fileWriteTool(ws *Workspace) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "file-write",
			Description: "Write a file inside the workspace, creating parent directories",
			Category:    "file",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"path", "content"},
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			path, err := ws.Resolve(stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "mkdir for %s", path)
			}
			content := stringArg(args, "content")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "write %s", path)
			}
			return &ExecResult{Output: map[string]any{"bytes_written": len(content)}}, nil
		},
	}
}

func fileEditTool(ws *Workspace) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "file-edit",
			Description: "Replace text in a single workspace file",
			Category:    "file",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"path", "old", "new"},
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
					"old":  map[string]any{"type": "string"},
					"new":  map[string]any{"type": "string"},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			edit := FileEdit{
				Path: stringArg(args, "path"),
				Old:  stringArg(args, "old"),
				New:  stringArg(args, "new"),
			}
			result, err := ApplyMultiEdit(ctx, ws, []FileEdit{edit}, false)
			if err != nil {
				return nil, err
			}
			return &ExecResult{Output: result}, nil
		},
	}
}

func multiFileEditTool(ws *Workspace) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "multi-file-edit",
			Description: "Apply edits across files, optionally atomically with rollback",
			Category:    "file",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"edits"},
				"properties": map[string]any{
					"edits": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type":     "object",
							"required": []any{"path", "old", "new"},
							"properties": map[string]any{
								"path": map[string]any{"type": "string"},
								"old":  map[string]any{"type": "string"},
								"new":  map[string]any{"type": "string"},
							},
						},
					},
					"atomic": map[string]any{"type": "boolean"},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			rawEdits, _ := args["edits"].([]any)
			edits := make([]FileEdit, 0, len(rawEdits))
			for _, raw := range rawEdits {
				m, ok := raw.(map[string]any)
				if !ok {
					return nil, fault.New(fault.CodeValidation, "edit entries must be objects")
				}
				edits = append(edits, FileEdit{
					Path: stringArg(m, "path"),
					Old:  stringArg(m, "old"),
					New:  stringArg(m, "new"),
				})
			}
			atomic, _ := args["atomic"].(bool)
			result, err := ApplyMultiEdit(ctx, ws, edits, atomic)
			if err != nil {
				// Partial state is part of the contract: surface the
				// result alongside the failure.
				return &ExecResult{PartialOutput: result}, err
			}
			return &ExecResult{Output: result}, nil
		},
	}
}

func fileGlobTool(ws *Workspace) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "file-glob",
			Description: "List workspace files matching a glob pattern",
			Category:    "file",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"pattern"},
				"properties": map[string]any{
					"pattern": map[string]any{"type": "string"},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			pattern := stringArg(args, "pattern")
			matches, err := filepath.Glob(filepath.Join(ws.Root, pattern))
			if err != nil {
				return nil, fault.Wrap(fault.CodeValidation, err, "bad glob pattern %q", pattern)
			}
			rel := make([]string, 0, len(matches))
			for _, m := range matches {
				if r, err := filepath.Rel(ws.Root, m); err == nil {
					rel = append(rel, r)
				}
			}
			return &ExecResult{Output: map[string]any{"matches": rel}}, nil
		},
	}
}

func fileGrepTool(ws *Workspace) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "file-grep",
			Description: "Search workspace file contents with a regular expression",
			Category:    "file",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"pattern"},
				"properties": map[string]any{
					"pattern": map[string]any{"type": "string"},
					"glob":    map[string]any{"type": "string"},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			re, err := regexp.Compile(stringArg(args, "pattern"))
			if err != nil {
				return nil, fault.Wrap(fault.CodeValidation, err, "bad regexp")
			}
			glob := stringArg(args, "glob")

			type match struct {
				Path string `json:"path"`
				Line int    `json:"line"`
				Text string `json:"text"`
			}
			var matches []match

			walkErr := filepath.WalkDir(ws.Root, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				// Cancellation is checked between files so long scans
				// honor the signal.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if glob != "" {
					if ok, _ := filepath.Match(glob, d.Name()); !ok {
						return nil
					}
				}
				f, err := os.Open(path)
				if err != nil {
					return nil
				}
				defer f.Close()
				scanner := bufio.NewScanner(f)
				scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
				lineNo := 0
				for scanner.Scan() {
					lineNo++
					if re.MatchString(scanner.Text()) {
						rel, _ := filepath.Rel(ws.Root, path)
						matches = append(matches, match{Path: rel, Line: lineNo, Text: scanner.Text()})
						if len(matches) >= grepMatchCap {
							return filepath.SkipAll
						}
					}
				}
				return nil
			})
			if walkErr != nil && ctx.Err() != nil {
				return &ExecResult{PartialOutput: map[string]any{"matches": matches}},
					fault.Wrap(fault.CodeCancelled, ctx.Err(), "grep aborted")
			}
			return &ExecResult{Output: map[string]any{"matches": matches, "truncated": len(matches) >= grepMatchCap}}, nil
		},
	}
}

func webFetchTool(client *http.Client) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "web-fetch",
			Description: "Fetch a public URL; local and private address space is blocked",
			Category:    "search",
			Version:     "1.0.0",
			External:    true,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"url"},
				"properties": map[string]any{
					"url": map[string]any{"type": "string"},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			raw := stringArg(args, "url")
			target, err := url.Parse(raw)
			if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
				return nil, fault.New(fault.CodeValidation, "invalid url %q", raw)
			}
			ips, err := guardHost(ctx, target.Hostname())
			if err != nil {
				return nil, err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
			if err != nil {
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "build request")
			}
			resp, err := pinnedClient(client, ips[0]).Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fault.Wrap(fault.CodeCancelled, ctx.Err(), "fetch aborted")
				}
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "fetch %s", raw)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "read response")
			}
			return &ExecResult{Output: map[string]any{
				"status": resp.StatusCode,
				"body":   string(body),
			}}, nil
		},
	}
}

// guardHost rejects hosts that resolve into loopback, private, or
// link-local address space and returns the vetted addresses.
func guardHost(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "resolve %s", host)
		}
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fault.New(fault.CodeToolExecutionFailed, "host %s has no addresses", host)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return nil, fault.New(fault.CodeSecurityViolation, "host %s resolves to restricted address %s", host, ip)
		}
	}
	return ips, nil
}

// pinnedClient dials the already-vetted address instead of letting the
// transport re-resolve the host, so the connection cannot land on an
// address that never passed the guard. TLS verification still runs
// against the URL's hostname.
func pinnedClient(base *http.Client, ip net.IP) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},
	}
	return &http.Client{Timeout: base.Timeout, Transport: transport}
}

func webSearchTool(search func(ctx context.Context, query string, maxResults int) ([]map[string]any, error)) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "web-search",
			Description: "Search the web through the configured backend",
			Category:    "search",
			Version:     "1.0.0",
			External:    true,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"query"},
				"properties": map[string]any{
					"query":       map[string]any{"type": "string", "minLength": 1},
					"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			query := stringArg(args, "query")
			maxResults := intArg(args, "max_results", 10)
			if search == nil {
				return &ExecResult{Output: map[string]any{
					"query":   query,
					"results": []map[string]any{},
					"note":    "no search backend configured",
				}}, nil
			}
			results, err := search(ctx, query, maxResults)
			if err != nil {
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "search failed")
			}
			return &ExecResult{Output: map[string]any{"query": query, "results": results}}, nil
		},
	}
}

func databaseQueryTool(query func(ctx context.Context, query string) ([]map[string]any, error)) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "database-query",
			Description: "Run a read-only query through the configured backend",
			Category:    "data",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"query"},
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			q := stringArg(args, "query")
			if query == nil {
				return &ExecResult{Output: map[string]any{"rows": []map[string]any{}, "note": "no database backend configured"}}, nil
			}
			rows, err := query(ctx, q)
			if err != nil {
				return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "query failed")
			}
			return &ExecResult{Output: map[string]any{"rows": rows}}, nil
		},
	}
}

func taskListTool() *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "task-list",
			Description: "Normalize a list of task descriptions into structured items",
			Category:    "analysis",
			Version:     "1.0.0",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"tasks"},
				"properties": map[string]any{
					"tasks": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items":    map[string]any{"type": "string"},
					},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			raw, _ := args["tasks"].([]any)
			items := make([]map[string]any, 0, len(raw))
			for _, entry := range raw {
				text, _ := entry.(string)
				items = append(items, map[string]any{
					"id":     uuid.NewString(),
					"text":   strings.TrimSpace(text),
					"status": "pending",
				})
			}
			return &ExecResult{Output: map[string]any{"items": items}}, nil
		},
	}
}

func shellExecTool(ws *Workspace) *Tool {
	return &Tool{
		Definition: Definition{
			Name:               "shell-exec",
			Description:        "Run a shell command inside the workspace (permission gated)",
			Category:           "file",
			Version:            "1.0.0",
			RequiresPermission: true,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"command"},
				"properties": map[string]any{
					"command": map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			cmd := exec.CommandContext(ctx, "sh", "-c", stringArg(args, "command"))
			cmd.Dir = ws.Root
			out, err := cmd.CombinedOutput()
			if ctx.Err() != nil {
				return &ExecResult{PartialOutput: string(out)},
					fault.Wrap(fault.CodeCancelled, ctx.Err(), "command aborted")
			}
			if err != nil {
				return &ExecResult{PartialOutput: string(out)},
					fault.Wrap(fault.CodeToolExecutionFailed, err, "command failed")
			}
			return &ExecResult{Output: map[string]any{"stdout": string(out)}}, nil
		},
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

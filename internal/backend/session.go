package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/roach88/ngbundle/internal/pipeline"
)

// Frames exchanged with the VM host, one JSON object per line.
type frame struct {
	Type     string         `json:"type"`
	ID       int            `json:"id,omitempty"`
	Build    *buildFrame    `json:"build,omitempty"`
	Resolve  *resolveFrame  `json:"resolve,omitempty"`
	Resolved *resolvedFrame `json:"resolved,omitempty"`
	Path     string         `json:"path,omitempty"`
	Loaded   *loadedFrame   `json:"loaded,omitempty"`
	Error    string         `json:"error,omitempty"`
	Result   *resultFrame   `json:"result,omitempty"`
}

type buildFrame struct {
	EntryPath         string            `json:"entryPath"`
	EntryName         string            `json:"entryName"`
	Outdir            string            `json:"outdir"`
	WorkingDir        string            `json:"workingDir,omitempty"`
	ChunkNames        string            `json:"chunkNames"`
	MainFields        []string          `json:"mainFields"`
	ResolveExtensions []string          `json:"resolveExtensions,omitempty"`
	Loaders           map[string]string `json:"loaders"`
	LoadFilter        string            `json:"loadFilter"`
}

type resolveFrame struct {
	Path       string `json:"path"`
	Importer   string `json:"importer"`
	ResolveDir string `json:"resolveDir"`
	Kind       string `json:"kind"`
}

type resolvedFrame struct {
	Handled  bool   `json:"handled"`
	Path     string `json:"path,omitempty"`
	External bool   `json:"external,omitempty"`
}

type loadedFrame struct {
	Handled  bool   `json:"handled"`
	Contents string `json:"contents,omitempty"`
	Loader   string `json:"loader,omitempty"`
}

type resultFrame struct {
	Errors      []messageFrame `json:"errors"`
	Warnings    []messageFrame `json:"warnings"`
	OutputFiles []outputFrame  `json:"outputFiles"`
	Metafile    string         `json:"metafile"`
}

type messageFrame struct {
	ID         string `json:"id"`
	PluginName string `json:"pluginName"`
	Text       string `json:"text"`
	Location   *struct {
		File   string `json:"file"`
		Line   int    `json:"line"`
		Column int    `json:"column"`
	} `json:"location"`
}

type outputFrame struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

func newBuildFrame(opts Options) *buildFrame {
	mainFields := opts.Settings.MainFields
	if mainFields == nil {
		mainFields = []string{}
	}
	return &buildFrame{
		EntryPath:         opts.EntryPath,
		EntryName:         opts.EntryName,
		Outdir:            opts.OutputDir,
		WorkingDir:        opts.WorkingDir,
		ChunkNames:        opts.chunkNames(),
		MainFields:        mainFields,
		ResolveExtensions: opts.Settings.ResolveExtensions,
		Loaders:           opts.Settings.Loaders,
		LoadFilter:        LoadFilter,
	}
}

// session speaks the host protocol over a pair of streams.
type session struct {
	r *bufio.Reader

	mu  sync.Mutex
	enc *json.Encoder
}

func newSession(r io.Reader, w io.Writer) *session {
	return &session{r: bufio.NewReader(r), enc: json.NewEncoder(w)}
}

func (s *session) send(f frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(f)
}

func (s *session) next() (frame, error) {
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return frame{}, io.ErrUnexpectedEOF
		}
		if !errors.Is(err, io.EOF) {
			return frame{}, err
		}
	}
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		return frame{}, fmt.Errorf("decode host frame: %w", err)
	}
	return f, nil
}

// build sends the build request and serves hook calls until the host
// reports a result. Hook calls are answered concurrently.
func (s *session) build(ctx context.Context, opts Options) (*resultFrame, error) {
	if err := s.send(frame{Type: "build", Build: newBuildFrame(opts)}); err != nil {
		return nil, fmt.Errorf("send build: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		f, err := s.next()
		if err != nil {
			return nil, fmt.Errorf("read host: %w", err)
		}
		switch f.Type {
		case "resolve", "load":
			wg.Add(1)
			go func() {
				defer wg.Done()
				// A failed reply surfaces as a read error on the next frame.
				_ = s.send(s.serve(ctx, opts.Hooks, f))
			}()
		case "result":
			if f.Result == nil {
				return nil, fmt.Errorf("host result frame without payload")
			}
			return f.Result, nil
		default:
			return nil, fmt.Errorf("unexpected host frame %q", f.Type)
		}
	}
}

func (s *session) serve(ctx context.Context, hooks Hooks, f frame) frame {
	reply := frame{Type: "reply", ID: f.ID}
	switch f.Type {
	case "resolve":
		if f.Resolve == nil {
			reply.Error = "resolve frame without payload"
			return reply
		}
		res, ok, err := hooks.Resolve(ctx, pipeline.ResolveArgs{
			Path:       f.Resolve.Path,
			Importer:   f.Resolve.Importer,
			ResolveDir: f.Resolve.ResolveDir,
			Kind:       f.Resolve.Kind,
		})
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Resolved = &resolvedFrame{Handled: ok, Path: res.Path, External: res.External}
	case "load":
		mod, ok, err := hooks.Load(ctx, f.Path)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Loaded = &loadedFrame{Handled: ok}
		if ok {
			reply.Loaded.Contents = mod.Contents
			reply.Loaded.Loader = mod.Loader
		}
	}
	return reply
}

func (s *session) dispose() error {
	return s.send(frame{Type: "dispose"})
}

func (r *resultFrame) messages() (errs, warnings []Message) {
	return convertFrames(r.Errors), convertFrames(r.Warnings)
}

func (r *resultFrame) files() []OutputFile {
	files := make([]OutputFile, len(r.OutputFiles))
	for i, f := range r.OutputFiles {
		files[i] = OutputFile{Path: f.Path, Contents: []byte(f.Text)}
	}
	return files
}

func convertFrames(msgs []messageFrame) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{ID: m.ID, Plugin: m.PluginName, Text: m.Text}
		if m.Location != nil {
			out[i].File = m.Location.File
			out[i].Line = m.Location.Line
			out[i].Column = m.Location.Column
		}
	}
	return out
}

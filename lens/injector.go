package lens

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-analyze/bulk"
)

// ErrInvalidTarget indicates a registration targets a line outside the function body.
var ErrInvalidTarget = errors.New("invalid injection target")

// ErrFunctionEnabled indicates an operation requires the function to be restored first.
var ErrFunctionEnabled = errors.New("function injections are enabled")

// FunctionResult describes the outcome of one function within an Enable call.
type FunctionResult struct {
	Ident    string `json:"ident"`
	FilePath string `json:"file"`
	// Requests is the number of registered requests.
	Requests int `json:"requests"`
	// Applied is the number of requests spliced into the function.
	Applied int `json:"applied"`
	// Dropped is the number of requests discarded with a diagnostic.
	Dropped int `json:"dropped"`
	// Unmatched is the number of requests whose line holds no statement, or duplicates.
	Unmatched   int          `json:"unmatched"`
	Diagnostics []Diagnostic `json:"-"`
	// Error is set when the function could not be transformed and was left untouched.
	Error string `json:"error,omitempty"`
}

// EnableResult summarizes an Enable call.
type EnableResult struct {
	Functions []FunctionResult `json:"functions"`
	// Files lists the source files that were bound.
	Files []string `json:"files"`
}

// Totals returns the summed request counts across all functions.
func (r EnableResult) Totals() (applied, dropped, unmatched int) {
	for _, f := range r.Functions {
		applied += f.Applied
		dropped += f.Dropped
		unmatched += f.Unmatched
	}
	return
}

// PreviewResult is the rendering of a function with its injections applied.
type PreviewResult struct {
	Source      []byte
	Diff        string
	Diagnostics []Diagnostic
}

// Injector owns registered injections and binds or restores them. Enable and Restore calls are serialized.
type Injector struct {
	registry *Registry
	locator  *SourceLocator
	binder   Binder
	logger   *log.Logger

	mu sync.Mutex
}

// NewInjector creates an injector. A nil logger uses the standard logger.
func NewInjector(registry *Registry, locator *SourceLocator, binder Binder, logger *log.Logger) *Injector {
	if logger == nil {
		logger = log.Default()
	}
	return &Injector{
		registry: registry,
		locator:  locator,
		binder:   binder,
		logger:   logger,
	}
}

// Close releases the registry and cache.
func (i *Injector) Close() {
	i.registry.Close()
	i.locator.Close()
}

// pristineSource returns the snapshot of path, or the current file contents when nothing in it is registered.
func (i *Injector) pristineSource(path string) ([]byte, error) {
	if src, ok, err := i.registry.Snapshot(path); err != nil {
		return nil, err
	} else if ok {
		return src, nil
	}
	if i.binder.Bound(path) {
		return nil, fmt.Errorf("%w: %s is bound without a snapshot", ErrRebind, path)
	}
	return i.locator.ReadFile(path)
}

// Locate returns the pristine source of function ident within path.
func (i *Injector) Locate(path, ident string) (FuncSource, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return FuncSource{}, err
	}
	src, err := i.pristineSource(path)
	if err != nil {
		return FuncSource{}, err
	}
	return LocateInSource(path, src, ident)
}

// LocateLine returns the pristine source of the function enclosing the 1-based file line.
func (i *Injector) LocateLine(path string, line int) (FuncSource, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return FuncSource{}, err
	}
	src, err := i.pristineSource(path)
	if err != nil {
		return FuncSource{}, err
	}
	return LocateLineInSource(path, src, line)
}

// Register queues an injection for fn. bodyLine is 1-based from the first line after the signature line, the
// closing brace line excluded. The code is not validated until the function is enabled.
func (i *Injector) Register(fn FuncSource, bodyLine int, code string, pos Position) error {
	lineCount := fn.LineCount()
	if bodyLine < 1 || bodyLine > lineCount-2 {
		return fmt.Errorf("%w: line %d outside of the body of %s, valid lines are 1 to %d",
			ErrInvalidTarget, bodyLine, fn.Ident, max(lineCount-2, 0))
	} else if fn.FilePath == "" || fn.Ident == "" {
		return fmt.Errorf("%w: function source has no file or identifier", ErrInvalidTarget)
	}
	path, err := filepath.Abs(fn.FilePath)
	if err != nil {
		return err
	}

	rec, ok, err := i.registry.Load(fn.Ident)
	if err != nil {
		return err
	}
	var src []byte
	if !ok {
		if src, err = i.pristineSource(path); err != nil {
			return err
		}
		rec = FunctionRecord{
			Ident:     fn.Ident,
			FilePath:  path,
			StartLine: fn.StartLine,
			LineCount: lineCount,
		}
	}
	rec.Requests = append(rec.Requests, Request{Line: bodyLine + 1, Code: code, Position: pos})
	if err := i.registry.Save(rec); err != nil {
		return err
	} else if ok {
		return nil // the snapshot was stored with the first request
	}
	// a new record is only kept together with its snapshot
	if err := i.registry.SaveSnapshot(path, src); err != nil {
		if delErr := i.registry.Delete(rec.Ident); delErr != nil {
			i.logger.Printf("%s%s: registered without snapshot: %v", ErrorLogPrefix, rec.Ident, delErr)
		}
		return err
	}
	return nil
}

// ErrAmbiguousIdent indicates a short identifier matches functions of several packages.
var ErrAmbiguousIdent = errors.New("ambiguous function identifier")

// resolveIdent finds the record of ident, which may omit the package prefix when that is unambiguous.
func resolveIdent(records []FunctionRecord, ident string) (FunctionRecord, error) {
	var found []FunctionRecord
	for _, rec := range records {
		if rec.Ident == ident {
			return rec, nil
		} else if rec.ShortIdent() == ident {
			found = append(found, rec)
		}
	}
	switch len(found) {
	case 0:
		return FunctionRecord{}, fmt.Errorf("%w: %s", ErrNotRegistered, ident)
	case 1:
		return found[0], nil
	default:
		return FunctionRecord{}, fmt.Errorf("%w: %s matches %d functions", ErrAmbiguousIdent, ident, len(found))
	}
}

func (i *Injector) lookup(ident string) (FunctionRecord, error) {
	if rec, ok, err := i.registry.Load(ident); err != nil {
		return rec, err
	} else if ok {
		return rec, nil
	}
	records, err := i.registry.Records()
	if err != nil {
		return FunctionRecord{}, err
	}
	return resolveIdent(records, ident)
}

// Functions returns the registered functions, sorted by ident.
func (i *Injector) Functions() ([]FunctionRecord, error) {
	return i.registry.Records()
}

// Requests returns the requests registered for ident, in registration order.
func (i *Injector) Requests(ident string) ([]Request, error) {
	rec, err := i.lookup(ident)
	if err != nil {
		return nil, err
	}
	return rec.Requests, nil
}

// Unregister discards every request of ident. Enabled functions must be restored first.
func (i *Injector) Unregister(ident string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	rec, err := i.lookup(ident)
	if err != nil {
		return err
	} else if rec.Enabled {
		return fmt.Errorf("%w: %s", ErrFunctionEnabled, rec.Ident)
	}
	return i.registry.Delete(rec.Ident)
}

// Reset discards every registered function. It fails while any function is enabled.
func (i *Injector) Reset() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	records, err := i.registry.Records()
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if rec.Enabled {
			return 0, fmt.Errorf("%w: %s", ErrFunctionEnabled, rec.Ident)
		}
	}
	return len(records), i.registry.Clear()
}

// Preview renders ident with its injections applied, without binding anything.
func (i *Injector) Preview(ident string, standalone bool) (PreviewResult, error) {
	rec, err := i.lookup(ident)
	if err != nil {
		return PreviewResult{}, err
	}
	src, err := i.pristineSource(rec.FilePath)
	if err != nil {
		return PreviewResult{}, err
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, rec.FilePath, src, parser.ParseComments)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("ast parse failure %s: %w", rec.FilePath, err)
	}
	tree, err := NewFuncTree(fset, file, findFuncDecl(file, rec.Ident))
	if err != nil {
		return PreviewResult{}, fmt.Errorf("%s: %w", rec.Ident, err)
	}

	opts := RegenerateOptions{Standalone: standalone}
	before, err := Regenerate(tree, opts)
	if err != nil {
		return PreviewResult{}, err
	}
	_, diagnostics := Transform(tree, BuildIndex(rec.Requests))
	after, err := Regenerate(tree, opts)
	if err != nil {
		return PreviewResult{}, err
	}
	diff, err := UnifiedDiff(rec.ShortIdent(), before, after)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{Source: after, Diff: diff, Diagnostics: diagnostics}, nil
}

// fileBinding is the planned state of one source file.
type fileBinding struct {
	path    string
	records []FunctionRecord // enabled after the call
	prior   []FunctionRecord // enabled before the call
	next    []byte           // nil to unbind
	results []FunctionResult
}

// Enable binds the injections of the given functions, or of every registered function when none are given.
// Each file is rebuilt from its pristine snapshot, so enabling again is safe. Either every affected file is bound,
// or the prior bindings are restored and an error is returned.
func (i *Injector) Enable(ctx context.Context, idents ...string) (EnableResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	records, err := i.registry.Records()
	if err != nil {
		return EnableResult{}, err
	}
	selected, err := selectRecords(records, idents)
	if err != nil {
		return EnableResult{}, err
	}
	return i.rebind(ctx, records, func(rec FunctionRecord) bool {
		return rec.Enabled || selected[rec.Ident]
	}, selected)
}

// Restore reverts the given functions, or every function when none are given. Other enabled functions sharing
// a file with a restored function stay bound.
func (i *Injector) Restore(ctx context.Context, idents ...string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	records, err := i.registry.Records()
	if err != nil {
		return err
	}
	selected, err := selectRecords(records, idents)
	if err != nil {
		return err
	}
	_, err = i.rebind(ctx, records, func(rec FunctionRecord) bool {
		return rec.Enabled && !selected[rec.Ident]
	}, selected)
	return err
}

func selectRecords(records []FunctionRecord, idents []string) (map[string]bool, error) {
	if len(idents) == 0 {
		selected := make(map[string]bool, len(records))
		for _, rec := range records {
			selected[rec.Ident] = true
		}
		return selected, nil
	}
	selected := make(map[string]bool, len(idents))
	for _, ident := range idents {
		rec, err := resolveIdent(records, ident)
		if err != nil {
			return nil, err
		}
		selected[rec.Ident] = true
	}
	return selected, nil
}

// rebind computes the new binding of each file touched by the selected functions and applies them.
func (i *Injector) rebind(ctx context.Context, records []FunctionRecord, enabled func(FunctionRecord) bool,
	selected map[string]bool) (EnableResult, error) {
	byFile := bulk.SliceToGroupsBy(func(rec FunctionRecord) string { return rec.FilePath }, records)
	var bindings []*fileBinding
	for path, fileRecords := range byFile {
		if !slices.ContainsFunc(fileRecords, func(rec FunctionRecord) bool { return selected[rec.Ident] }) {
			continue
		}
		fb := &fileBinding{path: path}
		for _, rec := range fileRecords {
			if rec.Enabled {
				fb.prior = append(fb.prior, rec)
			}
			if enabled(rec) {
				fb.records = append(fb.records, rec)
			}
		}
		bindings = append(bindings, fb)
	}
	slices.SortFunc(bindings, func(a, b *fileBinding) int {
		return strings.Compare(a.path, b.path)
	})

	// transform is pure, every file is planned before anything is bound
	planGroup := ErrGroupLimitCPU()
	for _, fb := range bindings {
		planGroup.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			} else if len(fb.records) == 0 {
				return nil
			}
			var err error
			fb.next, fb.results, err = i.transformFile(fb.path, fb.records)
			return err
		})
	}
	if err := planGroup.Wait(); err != nil {
		return EnableResult{}, err
	}

	var boundMu sync.Mutex
	var bound []*fileBinding
	bindGroup := ErrGroupLimitCPU()
	for _, fb := range bindings {
		bindGroup.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			if fb.next == nil {
				err = i.binder.Unbind(fb.path)
			} else {
				err = i.binder.Bind(ctx, fb.path, fb.next)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", fb.path, err)
			}
			boundMu.Lock()
			bound = append(bound, fb)
			boundMu.Unlock()
			return nil
		})
	}
	if err := bindGroup.Wait(); err != nil {
		return EnableResult{}, errors.Join(err, i.rollback(bound))
	}

	var result EnableResult
	for _, fb := range bindings {
		active := make(map[string]bool, len(fb.results))
		for _, fr := range fb.results {
			active[fr.Ident] = fr.Error == ""
		}
		for _, rec := range byFile[fb.path] {
			if rec.Enabled != active[rec.Ident] {
				rec.Enabled = active[rec.Ident]
				if err := i.registry.Save(rec); err != nil {
					return result, err
				}
			}
		}
		if fb.next != nil {
			result.Files = append(result.Files, fb.path)
		}
		for _, fr := range fb.results {
			if selected[fr.Ident] {
				result.Functions = append(result.Functions, fr)
			}
		}
	}
	return result, nil
}

// rollback returns files bound during a failed call to their prior state.
func (i *Injector) rollback(bound []*fileBinding) error {
	var errs []error
	for _, fb := range bound {
		if len(fb.prior) == 0 {
			errs = append(errs, i.binder.Unbind(fb.path))
			continue
		}
		src, _, err := i.transformFile(fb.path, fb.prior)
		if err == nil {
			err = i.binder.Bind(context.Background(), fb.path, src)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rollback %s failed: %w", fb.path, err))
		}
	}
	return errors.Join(errs...)
}

// transformFile applies the requests of every record to the pristine source of path and regenerates the file.
// A function that can not be found is reported in its result and left untouched.
func (i *Injector) transformFile(path string, records []FunctionRecord) ([]byte, []FunctionResult, error) {
	src, err := i.pristineSource(path)
	if err != nil {
		return nil, nil, err
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, nil, fmt.Errorf("ast parse failure %s: %w", path, err)
	}

	results := make([]FunctionResult, 0, len(records))
	trees := make([]*FuncTree, 0, len(records))
	for _, rec := range records {
		fr := FunctionResult{Ident: rec.Ident, FilePath: path, Requests: len(rec.Requests)}
		tree, err := NewFuncTree(fset, file, findFuncDecl(file, rec.Ident))
		if err != nil {
			fr.Error = fmt.Sprintf("%s: %v", rec.Ident, err)
			i.logger.Printf("%s%s", WarnLogPrefix, fr.Error)
			results = append(results, fr)
			continue
		}
		idx := BuildIndex(rec.Requests)
		_, fr.Diagnostics = Transform(tree, idx)
		trees = append(trees, tree)
		fr.Applied = tree.MarkerCount()
		fr.Dropped = len(fr.Diagnostics)
		fr.Unmatched = idx.Len() - fr.Applied - fr.Dropped
		for _, d := range fr.Diagnostics {
			i.logger.Printf("%s%s: dropped injection %s", WarnLogPrefix, rec.Ident, d)
		}
		results = append(results, fr)
	}

	var buf bytes.Buffer
	out, err := RegenerateFile(&buf, fset, file, trees...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, results, nil
}

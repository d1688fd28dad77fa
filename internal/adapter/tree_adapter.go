package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/odin-detector/odin-control/internal/paramtree"
)

// TreeAdapter implements Dispatch over a parameter tree. Concrete adapters
// embed it, build their tree in Initialize and call SetTree.
//
//	GET       -> tree Get (or Describe when metadata is requested)
//	PUT, POST -> tree Set
//	DELETE    -> ErrUnsupported
type TreeAdapter struct {
	tree *paramtree.Tree
}

// SetTree installs the tree served by Dispatch.
func (a *TreeAdapter) SetTree(t *paramtree.Tree) {
	a.tree = t
}

// Tree returns the installed tree, or nil before SetTree.
func (a *TreeAdapter) Tree() *paramtree.Tree {
	return a.tree
}

// Dispatch routes req to the tree.
func (a *TreeAdapter) Dispatch(_ context.Context, req Request) (Response, error) {
	if a.tree == nil {
		return Response{}, fmt.Errorf("%w: adapter has no parameter tree", ErrUnsupported)
	}
	switch req.Method {
	case http.MethodGet:
		data, err := Read(a.tree, req.Path, req.WithMetadata)
		if err != nil {
			return Response{}, err
		}
		return OK(data), nil
	case http.MethodPut, http.MethodPost:
		data, err := Write(a.tree, req.Path, req.Body)
		if err != nil {
			return Response{}, err
		}
		return OK(data), nil
	default:
		return Response{}, fmt.Errorf("%w: %s", ErrUnsupported, req.Method)
	}
}

// Read renders path from t, with leaf metadata when withMeta is set.
func Read(t *paramtree.Tree, path paramtree.Path, withMeta bool) (any, error) {
	if withMeta {
		return t.Describe(path)
	}
	return t.Get(path)
}

// WriteResult is the response body of a write addressed to a branch.
type WriteResult struct {
	Value   any              `json:"value" yaml:"value"`
	Applied []string         `json:"applied" yaml:"applied"`
	Failed  paramtree.Object `json:"failed" yaml:"failed"`
}

// Write sets body at path and renders the outcome.
//
// A write to a single leaf returns the leaf as a GET would, and fails as a
// whole. A write to a branch always succeeds at this level and returns a
// WriteResult listing which parameters were applied and which failed.
func Write(t *paramtree.Tree, path paramtree.Path, body any) (any, error) {
	report, err := t.Set(path, body)
	if err != nil {
		return nil, err
	}
	value, err := t.Get(path)
	if err != nil {
		return nil, err
	}
	if report.Leaf {
		return value, nil
	}
	return NewWriteResult(value, report), nil
}

// NewWriteResult builds the branch-write envelope from a report.
func NewWriteResult(value any, report *paramtree.SetReport) WriteResult {
	res := WriteResult{
		Value:   value,
		Applied: append([]string{}, report.Applied...),
		Failed:  make(paramtree.Object, 0, len(report.Failed)),
	}
	for _, f := range report.Failed {
		res.Failed = append(res.Failed, paramtree.Pair{
			Key: f.Path,
			Value: paramtree.Object{
				{Key: "code", Value: paramtree.ErrorCode(f.Err)},
				{Key: "message", Value: f.Err.Error()},
			},
		})
	}
	return res
}

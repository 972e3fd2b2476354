package flst

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"flstore/fil"
)

// Validate walks the list from both ends and reports whether its structure is consistent. It returns an error
// only when a page could not be accessed.
func Validate(m Mtr, base fil.Ptr) (bool, error) {
	err := Check(m, base)
	if errors.Is(err, ErrCorrupted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Check is like Validate but describes the first broken relation it finds in an error wrapping ErrCorrupted.
//
// Walking forward from the first node, every node must point back to its predecessor, the walk must take exactly
// length steps and stop at the node recorded as last. Walking backward from the last node must take exactly length
// steps too. A walk never visits the same node twice.
func Check(m Mtr, base fil.Ptr) error {
	length := GetLen(base)
	first := GetFirst(base)
	last := GetLast(base)

	if (length == 0) != first.IsNull() || (length == 0) != last.IsNull() {
		return errors.Wrapf(ErrCorrupted, "length %d does not agree with ends %v and %v", length, first, last)
	}

	prev := fil.Null
	err := walk(m, base, first, length, GetNextAddr, func(addr fil.Addr, node fil.Ptr) error {
		if got := GetPrevAddr(node); !got.Equal(prev) {
			return errors.Wrapf(ErrCorrupted, "node %v points back to %v instead of %v", addr, got, prev)
		}
		prev = addr
		return nil
	})
	if err != nil {
		return errors.WithMessage(err, "forward walk")
	}
	if !prev.Equal(last) {
		return errors.Wrapf(ErrCorrupted, "forward walk ended at %v but last is %v", prev, last)
	}

	if err := walk(m, base, last, length, GetPrevAddr, nil); err != nil {
		return errors.WithMessage(err, "backward walk")
	}

	return nil
}

// walk follows step from start for exactly n nodes and expects to reach null after them.
func walk(m Mtr, base fil.Ptr, start fil.Addr, n uint32, step func(fil.Ptr) fil.Addr, visit func(fil.Addr, fil.Ptr) error) error {
	visited := make(map[fil.Addr]struct{})
	curr := start
	for i := uint32(0); i < n; i++ {
		if curr.IsNull() {
			return errors.Wrapf(ErrCorrupted, "list ends after %d of %d nodes", i, n)
		}
		if _, ok := visited[curr]; ok {
			return errors.Wrapf(ErrCorrupted, "node %v is visited twice", curr)
		}
		visited[curr] = struct{}{}

		node, release, err := look(m, base, curr)
		if err != nil {
			return err
		}
		if visit != nil {
			if err := visit(curr, node); err != nil {
				release()
				return err
			}
		}

		curr = step(node)
		release()
	}

	if !curr.IsNull() {
		return errors.Wrapf(ErrCorrupted, "node %v follows the last of %d nodes", curr, n)
	}

	return nil
}

// Walk calls fn for every node from first to last. The walk stops at the first error fn returns. Walk does not
// validate the list but it is bounded by its length.
//
// If m has a Peek method, like mtr.Mtr does, nodes are read through it and a page the mini-transaction did not
// hold before is released after fn returns, so node must not be used after that. Walk, Check and Validate hold
// at most one such page at a time however long the list is.
func Walk(m Mtr, base fil.Ptr, fn func(node fil.Ptr) error) error {
	curr := GetFirst(base)
	for i := GetLen(base); i > 0 && !curr.IsNull(); i-- {
		node, release, err := look(m, base, curr)
		if err != nil {
			return err
		}
		if err := fn(node); err != nil {
			release()
			return err
		}

		curr = GetNextAddr(node)
		release()
	}

	return nil
}

// Print logs the base node and every node of the list.
func Print(m Mtr, base fil.Ptr, logger *zap.Logger) error {
	logger.Info("file based list",
		zap.Stringer("base", base.Addr()),
		zap.Uint32("len", GetLen(base)),
		zap.Stringer("first", GetFirst(base)),
		zap.Stringer("last", GetLast(base)),
	)

	i := 0
	return Walk(m, base, func(node fil.Ptr) error {
		logger.Info("file based list node",
			zap.Int("index", i),
			zap.Stringer("addr", node.Addr()),
			zap.Stringer("prev", GetPrevAddr(node)),
			zap.Stringer("next", GetNextAddr(node)),
		)
		i++
		return nil
	})
}

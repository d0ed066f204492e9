package library

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const copyNumberPrefix = "COPY-"

// CanTransition reports whether a copy may move from one status to another.
// DAMAGED and LOST are reachable from every live status and are final.
func CanTransition(from, to CopyStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case CopyDamaged, CopyLost:
		return true
	}
	switch from {
	case CopyAvailable:
		return to == CopyIssued || to == CopyReserved
	case CopyIssued:
		return to == CopyAvailable
	case CopyReserved:
		return to == CopyIssued || to == CopyAvailable
	default:
		return false
	}
}

// NextCopyNumber returns the copy number following the highest COPY-%04d
// suffix in existing. Unparseable entries are ignored and the order of
// existing does not matter.
func NextCopyNumber(existing []string) string {
	highest := 0
	for _, cn := range existing {
		suffix, ok := strings.CutPrefix(cn, copyNumberPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%04d", copyNumberPrefix, highest+1)
}

// transitionCopy moves a loaded copy to status to, failing with
// InvalidTransition for illegal moves and CopyUnavailable when another
// writer changed the row first.
func transitionCopy(ctx context.Context, repo CopyRepository, c *BookCopy, to CopyStatus) error {
	if !CanTransition(c.Status, to) {
		return invalidTransition(c.Status, to)
	}
	ok, err := repo.SwapCopyStatus(ctx, c.ID, c.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		current, err := repo.GetCopy(ctx, c.ID)
		if err != nil {
			return err
		}
		return copyUnavailable(current.Status)
	}
	c.Status = to
	c.Version++
	return nil
}

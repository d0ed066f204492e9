package library

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[CopyStatus][]CopyStatus{
		CopyAvailable: {CopyIssued, CopyReserved, CopyDamaged, CopyLost},
		CopyIssued:    {CopyAvailable, CopyDamaged, CopyLost},
		CopyReserved:  {CopyIssued, CopyAvailable, CopyDamaged, CopyLost},
		CopyDamaged:   nil,
		CopyLost:      nil,
	}
	all := []CopyStatus{CopyAvailable, CopyIssued, CopyReserved, CopyDamaged, CopyLost}

	for _, from := range all {
		for _, to := range all {
			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				want := false
				for _, s := range allowed[from] {
					if s == to {
						want = true
					}
				}
				assert.Equal(t, want, CanTransition(from, to))
			})
		}
	}
}

func TestNextCopyNumber(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{"first copy", nil, "COPY-0001"},
		{"sequential", []string{"COPY-0001", "COPY-0002"}, "COPY-0003"},
		{"unordered", []string{"COPY-0002", "COPY-0010", "COPY-0003"}, "COPY-0011"},
		{"gaps keep the max", []string{"COPY-0001", "COPY-0007"}, "COPY-0008"},
		{"junk ignored", []string{"SPARE", "COPY-abc", "COPY-0004"}, "COPY-0005"},
		{"past four digits", []string{"COPY-9999"}, "COPY-10000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextCopyNumber(tt.existing))
		})
	}
}

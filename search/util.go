package search

import (
	"io"

	"go4.org/sort"

	"github.com/pkg/errors"
)

func isEOF(err error) bool {
	return errors.Cause(err) == io.EOF
}

func sortUint64(s []uint64) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}

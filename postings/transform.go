package postings

import (
	"github.com/pkg/errors"

	"github.com/tern-search/tern/util/vec"
)

// StripPositions rewrites a vector carrying word positions into one with
// document gaps and frequencies only. docs is the number of documents the
// vector covers.
func StripPositions(src []byte, docs uint64) ([]byte, error) {
	in := vec.New(src)
	out := make([]byte, 0, len(src)/2)
	for d := uint64(0); d < docs; d++ {
		gap, err := in.VbyteRead()
		if err != nil {
			return nil, errors.Wrap(err, "truncated postings vector")
		}
		fdt, err := in.VbyteRead()
		if err != nil {
			return nil, errors.Wrap(err, "truncated postings vector")
		}
		if skipped := in.VbyteScan(int(fdt)); skipped != int(fdt) {
			return nil, errors.New("truncated postings vector")
		}
		out = appendVbyte(out, gap)
		out = appendVbyte(out, fdt)
	}
	return out, nil
}

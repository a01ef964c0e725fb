package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Record is one line of input: an experiment accession, optionally restricted
// to some biological replicates.
type Record struct {
	Experiment string
	Bioreps    []int
}

// ParseRecords reads lines of the form ENCSR...[,n[,m...]]. Lines starting
// with # are skipped. Replicate numbers are de-duplicated and sorted.
func ParseRecords(in io.Reader) ([]Record, error) {
	reader := csv.NewReader(in)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []Record
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		exp := strings.TrimSpace(fields[0])
		if exp == "" {
			continue
		}
		rec := Record{Experiment: exp}
		for _, field := range fields[1:] {
			for _, s := range strings.Split(field, ",") {
				s = strings.TrimSpace(s)
				if s == "" {
					continue
				}
				n, err := strconv.Atoi(s)
				if err != nil {
					return nil, fmt.Errorf("%s: invalid replicate number %q", exp, s)
				}
				rec.Bioreps = append(rec.Bioreps, n)
			}
		}
		rec.Bioreps = lo.Uniq(rec.Bioreps)
		slices.Sort(rec.Bioreps)
		records = append(records, rec)
	}
	return records, nil
}

// ParseArgs parses experiments given on the command line the same way as
// lines of an input file.
func ParseArgs(args []string) ([]Record, error) {
	lines := lo.Map(args, func(s string, _ int) string { return strings.TrimRight(s, " \t\r\n") })
	return ParseRecords(strings.NewReader(strings.Join(lines, "\n")))
}

package audit

import (
	"context"
	"fmt"
)

type ProblemKind string

const (
	ProblemGap       ProblemKind = "gap"
	ProblemDuplicate ProblemKind = "duplicate"
	ProblemChecksum  ProblemKind = "checksum_mismatch"
	ProblemChainLink ProblemKind = "chain_break"
	ProblemGenesis   ProblemKind = "bad_genesis"
)

type Problem struct {
	Kind    ProblemKind `json:"kind"`
	Seq     int64       `json:"seq"`
	Message string      `json:"message"`
}

// maxReportedProblems bounds the problem list in a report. A badly
// corrupted chain can fail at every entry; ProblemCount still carries
// the full tally while Problems keeps only the earliest findings.
const maxReportedProblems = 50

// Report summarizes one verification pass.
type Report struct {
	Checked      int       `json:"checked"`
	FirstSeq     int64     `json:"firstSeq"`
	LastSeq      int64     `json:"lastSeq"`
	Valid        bool      `json:"valid"`
	ProblemCount int       `json:"problemCount"`
	Problems     []Problem `json:"problems"`
}

// Verify walks entries [fromSeq, toSeq] and checks sequence continuity,
// per-entry checksums, and prev-checksum linkage. fromSeq <= 0 starts at
// the beginning; toSeq <= 0 runs to the head.
func Verify(ctx context.Context, repo Repository, fromSeq, toSeq int64) (*Report, error) {
	if fromSeq <= 0 {
		fromSeq = 1
	}
	entries, err := repo.ListRange(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("list audit range: %w", err)
	}

	report := &Report{Valid: true}
	if len(entries) == 0 {
		return report, nil
	}
	report.Checked = len(entries)
	report.FirstSeq = entries[0].Seq
	report.LastSeq = entries[len(entries)-1].Seq

	var prev *Entry
	for i := range entries {
		entry := &entries[i]

		if prev != nil {
			switch {
			case entry.Seq == prev.Seq:
				report.add(ProblemDuplicate, entry.Seq,
					fmt.Sprintf("seq %d appears more than once", entry.Seq))
			case entry.Seq > prev.Seq+1:
				report.add(ProblemGap, entry.Seq,
					fmt.Sprintf("missing entries between seq %d and %d", prev.Seq, entry.Seq))
			}
		}

		if got := Checksum(entry); got != entry.Checksum {
			report.add(ProblemChecksum, entry.Seq,
				fmt.Sprintf("stored checksum does not match recomputed value at seq %d", entry.Seq))
		}

		if prev == nil {
			// Only the true head of the chain carries the genesis sentinel.
			if entry.Seq == 1 && entry.PrevChecksum != GenesisChecksum {
				report.add(ProblemGenesis, entry.Seq, "first entry does not reference the genesis sentinel")
			}
		} else if entry.Seq == prev.Seq+1 && entry.PrevChecksum != prev.Checksum {
			report.add(ProblemChainLink, entry.Seq,
				fmt.Sprintf("entry %d does not reference checksum of entry %d", entry.Seq, prev.Seq))
		}

		prev = entry
	}
	return report, nil
}

func (r *Report) add(kind ProblemKind, seq int64, msg string) {
	r.Valid = false
	r.ProblemCount++
	if len(r.Problems) < maxReportedProblems {
		r.Problems = append(r.Problems, Problem{Kind: kind, Seq: seq, Message: msg})
	}
}

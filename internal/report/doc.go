// Package report turns stored sessions into graded training results.
//
// FromRecord builds a Result for one session and Report renders it as a
// fixed-width text block. Aggregate summarises many sessions per scenario,
// weighting the average score by each scenario's point total.
package report

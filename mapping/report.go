package mapping

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
)

// ReportRow is one replicate and read kind that had files to map.
type ReportRow struct {
	Experiment string
	Replicate  int
	Reads      string
	Files      string
	Workflow   string
	Analyses   string
}

// Report collects what was built during a run.
type Report struct {
	Rows []ReportRow
}

func (rep *Report) add(experiment string, biorep int, kind string, files []string, launch *Launch) {
	if len(files) == 0 {
		return
	}
	row := ReportRow{
		Experiment: experiment,
		Replicate:  biorep,
		Reads:      kind,
		Files:      strings.Join(files, " "),
	}
	if launch != nil && launch.Workflow != nil {
		row.Workflow = launch.Workflow.ID
		row.Analyses = strings.Join(launch.analysisIDs(), " ")
	}
	rep.Rows = append(rep.Rows, row)
}

// DataFrame returns the rows as a dataframe, one column per ReportRow field.
func (rep *Report) DataFrame() dataframe.DataFrame {
	return dataframe.LoadStructs(rep.Rows)
}

// WriteCSV writes the report to path.
func (rep *Report) WriteCSV(path string) error {
	if len(rep.Rows) == 0 {
		return os.WriteFile(path, []byte("Experiment,Replicate,Reads,Files,Workflow,Analyses\n"), 0644)
	}
	df := rep.DataFrame()
	if df.Err != nil {
		return fmt.Errorf("building report: %w", df.Err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return f.Close()
}

package encode

import (
	"encoding/json"
	"fmt"
)

// Experiment is the object frame of an ENCODE experiment. Linked objects are
// carried as @id paths.
type Experiment struct {
	ID            string   `json:"@id"`
	Accession     string   `json:"accession"`
	Status        string   `json:"status"`
	Files         []string `json:"files"`
	OriginalFiles []string `json:"original_files"`
	Replicates    []string `json:"replicates"`
}

// File is the object frame of an ENCODE file.
type File struct {
	ID                string   `json:"@id"`
	Accession         string   `json:"accession"`
	Status            string   `json:"status"`
	OutputType        string   `json:"output_type"`
	FileFormat        string   `json:"file_format"`
	Replicate         string   `json:"replicate"`
	PairedEnd         string   `json:"paired_end"`
	PairedWith        string   `json:"paired_with"`
	SubmittedFileName string   `json:"submitted_file_name"`
	DerivedFrom       []string `json:"derived_from"`
}

func (f *File) String() string {
	if f == nil {
		return "<none>"
	}
	return f.Accession
}

// Replicate is an ENCODE replicate. Library is only populated when the
// replicate was fetched with the embedded frame.
type Replicate struct {
	ID                  string   `json:"@id"`
	UUID                string   `json:"uuid"`
	BiologicalReplicate int      `json:"biological_replicate_number"`
	TechnicalReplicate  int      `json:"technical_replicate_number"`
	Library             *Library `json:"library,omitempty"`
}

type Library struct {
	ID        string     `json:"@id"`
	Biosample *Biosample `json:"biosample,omitempty"`
}

type Biosample struct {
	ID  string `json:"@id"`
	Sex string `json:"sex"`
	// Organism is either an @id link or an embedded organism object.
	Organism json.RawMessage `json:"organism"`
}

type Organism struct {
	ID   string `json:"@id"`
	Name string `json:"name"`
}

// HTTPError is returned for any non-2xx portal response.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

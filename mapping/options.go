package mapping

const (
	InputShieldApplet = "input_shield"
	MappingApplet     = "encode_bwa"
	FilterQCApplet    = "filter_qc"
	XcorApplet        = "xcor"
)

// File statuses and formats eligible for mapping.
var (
	StatusesToMap = []string{"in progress", "released", "uploading"}
	FormatsToMap  = []string{"fastq", "fasta"}
)

// AppletNames are the names the stage applets are looked up by in the applet project.
type AppletNames struct {
	InputShield string `yaml:"input_shield"`
	Mapping     string `yaml:"mapping"`
	FilterQC    string `yaml:"filter_qc"`
	Xcor        string `yaml:"xcor"`
}

func DefaultAppletNames() AppletNames {
	return AppletNames{
		InputShield: InputShieldApplet,
		Mapping:     MappingApplet,
		FilterQC:    FilterQCApplet,
		Xcor:        XcorApplet,
	}
}

// Options controls how experiments are turned into workflows.
type Options struct {
	Assembly    string
	SexSpecific bool

	// OutputProject and AppletProject are project names or IDs.
	OutputProject string
	OutputFolder  string
	AppletProject string

	// Key is the keypair name handed to the input shield so it can read from the portal.
	Key string

	Yes        bool
	Raw        bool
	Tag        string
	NoSfnDupes bool
	ForceSE    bool
	Debug      bool

	Applets    AppletNames
	References []Reference

	// FetchConcurrency bounds parallel portal requests per experiment.
	FetchConcurrency int
}

func (o *Options) setDefaults() {
	if o.OutputFolder == "" {
		o.OutputFolder = "/"
	}
	if o.Key == "" {
		o.Key = "default"
	}
	defaults := DefaultAppletNames()
	if o.Applets.InputShield == "" {
		o.Applets.InputShield = defaults.InputShield
	}
	if o.Applets.Mapping == "" {
		o.Applets.Mapping = defaults.Mapping
	}
	if o.Applets.FilterQC == "" {
		o.Applets.FilterQC = defaults.FilterQC
	}
	if o.Applets.Xcor == "" {
		o.Applets.Xcor = defaults.Xcor
	}
	if len(o.References) == 0 {
		o.References = DefaultReferences
	}
	if o.FetchConcurrency < 1 {
		o.FetchConcurrency = 8
	}
}

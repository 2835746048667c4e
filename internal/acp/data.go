package acp

// Well-known agent IDs. Addressing is static: senders name the
// receiver directly, there is no discovery step.
const (
	AgentOrchestrator = "orchestrator"
	AgentSearch       = "search_agent"
	AgentExtraction   = "extraction_agent"
	AgentFactChecker  = "fact_checker_agent"
	AgentSynthesis    = "synthesis_agent"
	AgentFileSave     = "file_save_agent"
	AgentLogger       = "logger_agent"
)

// Task types carried by TaskAssign.
const (
	TaskResearch   = "research"
	TaskWebSearch  = "web_search"
	TaskExtract    = "extract"
	TaskFactCheck  = "fact_check"
	TaskSynthesize = "synthesize_research"
	TaskSaveReport = "save_report"
)

// Data types carried by DataSubmit.
const (
	DataSearchResults    = "search_results"
	DataExtractedContent = "extracted_content"
	DataVerifiedContent  = "verified_content"
	DataSynthesisReport  = "synthesis_report"
	DataSaveConfirmation = "save_confirmation"
)

// SearchResult is one paper from the academic search stage.
type SearchResult struct {
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Year      int    `json:"year,omitempty"`
	Abstract  string `json:"abstract,omitempty"`
	Venue     string `json:"venue,omitempty"`
	Citations int    `json:"citations,omitempty"`
	URL       string `json:"url"`
	PDFURL    string `json:"pdf_url,omitempty"`
}

// Stage-specific task_data shapes. Every one carries task_id.

type ResearchTask struct {
	TaskID string `json:"task_id"`
	Query  string `json:"query"`
}

type SearchTask struct {
	TaskID string `json:"task_id"`
	Query  string `json:"query"`
}

type ExtractTask struct {
	TaskID string       `json:"task_id"`
	Query  string       `json:"query"`
	Source SearchResult `json:"source"`
}

type FactCheckTask struct {
	TaskID     string           `json:"task_id"`
	Query      string           `json:"query"`
	Extraction ExtractedContent `json:"extraction"`
}

type SynthesizeTask struct {
	TaskID   string            `json:"task_id"`
	Query    string            `json:"query"`
	Results  []SearchResult    `json:"results"`
	Verified []VerifiedContent `json:"verified"`
}

type SaveTask struct {
	TaskID        string `json:"task_id"`
	Query         string `json:"query"`
	ReportContent string `json:"report_content"`
	WordCount     int    `json:"word_count"`
	SectionCount  int    `json:"section_count"`
}

// Stage output shapes submitted via DataSubmit.

type SearchResults struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type ExtractedContent struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	WordCount  int    `json:"word_count"`
	Successful bool   `json:"extraction_successful"`
	Error      string `json:"error,omitempty"`
}

type VerifiedContent struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
	Successful bool    `json:"verification_successful"`
}

type SynthesisReport struct {
	Query           string `json:"query"`
	ReportContent   string `json:"report_content"`
	WordCount       int    `json:"word_count"`
	SectionCount    int    `json:"section_count"`
	SourcesAnalyzed int    `json:"sources_analyzed"`
}

type SaveConfirmation struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

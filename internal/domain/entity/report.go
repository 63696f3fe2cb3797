package entity

// Verdict is the classification capability's judgment for one Group.
// Images carries the group's frame handles only when the group is
// flagged as suspicious.
type Verdict struct {
	IsSuspicious bool     `json:"is_suspicious"`
	Object       string   `json:"object_in_question"`
	Explanation  string   `json:"why_suspicious"`
	Images       []string `json:"images"`
}

// Finding pairs a final Group with its Verdict.
type Finding struct {
	Result Verdict `json:"result"`
	Matrix Group   `json:"matrix"`
}

// Report is the ordered sequence of Findings for one video, one per
// final Group, in the order the Groups were produced.
type Report []Finding

// SuspiciousCount returns how many findings were flagged.
func (r Report) SuspiciousCount() int {
	n := 0
	for _, f := range r {
		if f.Result.IsSuspicious {
			n++
		}
	}
	return n
}

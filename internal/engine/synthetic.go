package engine

import (
	"time"

	"github.com/shanehull/bsewatch/internal/types"
)

const sampleAttachmentBase = "https://www.bseindia.com/xml-data/corpfiling/AttachLive/"

// Sample records are stamped at the market open of the current exchange day.
var sampleZone = time.FixedZone("IST", 5*3600+1800)

var sampleSubjects = []struct {
	code, name, attachment string
}{
	{"500325", "Reliance Industries Limited", "c4c8c8e5-5b5a-4f0e-9f3f-7e8e8e8e8e8e.pdf"},
	{"532540", "Tata Consultancy Services Ltd", "a1b2c3d4-5678-90ab-cdef-1234567890ab.pdf"},
	{"500180", "HDFC Bank Limited", "d4c3b2a1-8765-09ba-fedc-0987654321ba.pdf"},
	{"500209", "Infosys Limited", "e5f6g7h8-1234-5678-9abc-def123456789.pdf"},
	{"532174", "ICICI Bank Limited", "f6g7h8i9-2345-6789-0abc-def234567890.pdf"},
	{"500112", "State Bank of India", "g7h8i9j0-3456-7890-1abc-def345678901.pdf"},
	{"532454", "Bharti Airtel Limited", "h8i9j0k1-4567-8901-2abc-def456789012.pdf"},
	{"500875", "ITC Limited", "i9j0k1l2-5678-9012-3abc-def567890123.pdf"},
	{"500510", "Larsen & Toubro Limited", "j0k1l2m3-6789-0123-4abc-def678901234.pdf"},
	{"500696", "Hindustan Unilever Limited", "k1l2m3n4-7890-1234-5abc-def789012345.pdf"},
}

// SyntheticRecords is the demonstration dataset served when every live
// source fails. Every call on the same exchange day yields the same keys.
func SyntheticRecords(now time.Time) []types.DisclosureRecord {
	day := now.In(sampleZone)
	published := time.Date(day.Year(), day.Month(), day.Day(), 9, 15, 0, 0, sampleZone)
	records := make([]types.DisclosureRecord, 0, len(sampleSubjects))
	for _, s := range sampleSubjects {
		records = append(records, types.DisclosureRecord{
			SubjectID:    s.code,
			SubjectName:  s.name,
			Headline:     s.name + " - " + s.code + " - Sample announcement",
			PublishedAt:  published,
			PublishedRaw: published.Format("2006-01-02T15:04:05"),
			DocumentURI:  sampleAttachmentBase + s.attachment,
			Source:       types.SourceSynthetic,
		})
	}
	return records
}

package vcf

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"
)

const testVCF = "##fileformat=VCFv4.2\n" +
	"##source=test\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\tS2\n" +
	"1\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t0|0\t1|1\n" +
	"1\t200\trs2\tC\tT\t.\tPASS\t.\tGT:DP\t0/1:12\t./.:0\n" +
	"2\t300\trs3\tG\tA,C\t.\tPASS\t.\tGT\t1|2\t0|0\n" +
	"2\t400\trs4\tT\tC\t.\tPASS\t.\tGT\t1/0\t1|1\n"

func TestEncodeGenotype(t *testing.T) {
	cases := []struct {
		gt     string
		want   float64
		wantOK bool
	}{
		{"0|0", 0, true},
		{"0/0", 0, true},
		{"0|1", 1, true},
		{"1|0", 1, true},
		{"0/1", 1, true},
		{"1/0", 1, true},
		{"1|1", 2, true},
		{"1/1", 2, true},
		{".", DosageMissing, true},
		{"./.", DosageMissing, true},
		{".|.", DosageMissing, true},
		{"./1", DosageMissing, true},
		{"0", 0, true},
		{"1", 1, true},
		{"2|1", 0, false},
		{"0|2", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := EncodeGenotype(tc.gt)
		if ok != tc.wantOK {
			t.Fatalf("EncodeGenotype(%q): ok=%v, want %v", tc.gt, ok, tc.wantOK)
		}
		if ok && got != tc.want {
			t.Fatalf("EncodeGenotype(%q) = %v, want %v", tc.gt, got, tc.want)
		}
	}
}

func TestReaderBasic(t *testing.T) {
	r, err := NewReader(strings.NewReader(testVCF))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	names := r.SampleNames()
	if len(names) != 2 || names[0] != "S1" || names[1] != "S2" {
		t.Fatalf("SampleNames = %v", names)
	}

	var recs []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		recs = append(recs, rec)
	}

	// rs3 is multi-allelic and must be skipped
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if r.SkippedSites() != 1 {
		t.Fatalf("SkippedSites = %d, want 1", r.SkippedSites())
	}

	if recs[0].Site.Key() != "1:100:A:G" {
		t.Fatalf("first site key = %q", recs[0].Site.Key())
	}
	if recs[0].Dosages[0] != 0 || recs[0].Dosages[1] != 2 {
		t.Fatalf("rs1 dosages = %v", recs[0].Dosages)
	}
	// rs2 strips the FORMAT extras and keeps the missing call
	if recs[1].Dosages[0] != 1 || recs[1].Dosages[1] != DosageMissing {
		t.Fatalf("rs2 dosages = %v", recs[1].Dosages)
	}
	if recs[2].Dosages[0] != 1 || recs[2].Dosages[1] != 2 {
		t.Fatalf("rs4 dosages = %v", recs[2].Dosages)
	}
}

func TestReaderGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(testVCF)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader(gzip): %v", err)
	}
	if len(r.SampleNames()) != 2 {
		t.Fatalf("SampleNames = %v", r.SampleNames())
	}
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Site.Key() != "1:100:A:G" {
		t.Fatalf("first site key = %q", rec.Site.Key())
	}
}

func TestReaderMalformedLine(t *testing.T) {
	bad := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\n" +
		"1\t100\trs1\tA\tG\n"
	r, err := NewReader(strings.NewReader(bad))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	_, err = r.Next()
	if err == nil {
		t.Fatalf("expected malformed record error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error should name the line: %v", err)
	}
}

func TestReaderNoHeader(t *testing.T) {
	if _, err := NewReader(strings.NewReader("##only meta\n")); err == nil {
		t.Fatalf("expected error for VCF without #CHROM header")
	}
	if _, err := NewReader(strings.NewReader("not a vcf at all\n")); err == nil {
		t.Fatalf("expected error for non-VCF content")
	}
}

func TestReaderNoSamples(t *testing.T) {
	noSamples := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\n"
	if _, err := NewReader(strings.NewReader(noSamples)); err == nil {
		t.Fatalf("expected error for header without sample columns")
	}
}

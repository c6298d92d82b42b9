package vcf

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DosageMissing marks a genotype call that could not be read (./., .|., .).
const DosageMissing = -1.0

// fixedColumns are the leading VCF columns before per-sample data:
// CHROM POS ID REF ALT QUAL FILTER INFO FORMAT
const fixedColumns = 9

type Site struct {
	Chrom string
	Pos   int
	ID    string
	Ref   string
	Alt   string
}

// Key is the identity used to align uploads against a fitted model.
func (s Site) Key() string {
	return s.Chrom + ":" + strconv.Itoa(s.Pos) + ":" + s.Ref + ":" + s.Alt
}

type Record struct {
	Site    Site
	Dosages []float64
}

// Reader streams records out of a VCF (plain or gzip). Multi-allelic sites
// are skipped and counted rather than surfaced as records.
type Reader struct {
	scanner     *bufio.Scanner
	sampleNames []string
	line        int
	skipped     int
}

func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("Failed to read VCF: %w", err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("Failed to open gzip stream: %w", err)
		}
		src = gz
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	vr := &Reader{scanner: scanner}
	if err := vr.readHeader(); err != nil {
		return nil, err
	}
	return vr, nil
}

func (r *Reader) readHeader() error {
	for r.scanner.Scan() {
		r.line++
		text := r.scanner.Text()
		if strings.HasPrefix(text, "##") {
			continue
		}
		if strings.HasPrefix(text, "#CHROM") {
			cols := strings.Split(text, "\t")
			if len(cols) <= fixedColumns {
				return fmt.Errorf("VCF header line %d has no sample columns", r.line)
			}
			r.sampleNames = cols[fixedColumns:]
			return nil
		}
		return fmt.Errorf("unexpected line %d before #CHROM header", r.line)
	}
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("Failed to scan VCF header: %w", err)
	}
	return fmt.Errorf("VCF has no #CHROM header line")
}

func (r *Reader) SampleNames() []string {
	return r.sampleNames
}

// SkippedSites reports how many sites were dropped so far (multi-allelic ALT
// or genotype indices beyond the biallelic range).
func (r *Reader) SkippedSites() int {
	return r.skipped
}

// Next returns the next biallelic record, or io.EOF.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		text := r.scanner.Text()
		if text == "" {
			continue
		}
		cols := strings.Split(text, "\t")
		if len(cols) < fixedColumns+1 {
			return nil, fmt.Errorf("malformed VCF record at line %d: got %d columns", r.line, len(cols))
		}

		alt := cols[4]
		if strings.Contains(alt, ",") {
			r.skipped++
			continue
		}

		pos, err := strconv.Atoi(cols[1])
		if err != nil {
			return nil, fmt.Errorf("malformed POS at line %d: %w", r.line, err)
		}

		rec := &Record{
			Site: Site{
				Chrom: cols[0],
				Pos:   pos,
				ID:    cols[2],
				Ref:   cols[3],
				Alt:   alt,
			},
			Dosages: make([]float64, len(cols)-fixedColumns),
		}

		valid := true
		for i, field := range cols[fixedColumns:] {
			gt := field
			if idx := strings.IndexByte(field, ':'); idx >= 0 {
				gt = field[:idx]
			}
			dosage, ok := EncodeGenotype(gt)
			if !ok {
				valid = false
				break
			}
			rec.Dosages[i] = dosage
		}
		if !valid {
			r.skipped++
			continue
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("Failed to scan VCF: %w", err)
	}
	return nil, io.EOF
}

// EncodeGenotype maps a GT subfield to an alternate-allele dosage:
// hom-ref 0, het 1, hom-alt 2, missing -> DosageMissing. The second return
// is false for genotypes outside the biallelic range (e.g. 2|1).
func EncodeGenotype(gt string) (float64, bool) {
	switch gt {
	case "0|0", "0/0":
		return 0, true
	case "0|1", "1|0", "0/1", "1/0":
		return 1, true
	case "1|1", "1/1":
		return 2, true
	case ".", "./.", ".|.":
		return DosageMissing, true
	}

	// Unusual but legal forms (haploid calls, half-missing diploids) land
	// here; anything referencing an allele index > 1 gets the site skipped.
	sep := func(r rune) bool { return r == '|' || r == '/' }
	parts := strings.FieldsFunc(gt, sep)
	if len(parts) == 0 || len(parts) > 2 {
		return 0, false
	}
	total := 0.0
	for _, p := range parts {
		if p == "." {
			return DosageMissing, true
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 1 {
			return 0, false
		}
		total += float64(n)
	}
	// haploid calls count their single allele
	return total, true
}

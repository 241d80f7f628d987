package output

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/strrl/tpcpid/internal/aggregator"
	"github.com/strrl/tpcpid/internal/errors"
)

const ManifestName = "tables.md"

type Generator struct {
	outputDir string
}

func NewGenerator(outputDir string) *Generator {
	return &Generator{
		outputDir: outputDir,
	}
}

// Generate writes the table manifest and returns its path.
func (g *Generator) Generate(summary *aggregator.Summary) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create output directory %s", g.outputDir)
	}

	var sb strings.Builder
	sb.WriteString("# TPC nsigma tables\n\n")
	sb.WriteString(fmt.Sprintf("**Started:** %s\n", summary.StartedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("**Batches:** %d\n", summary.Batches))
	sb.WriteString(fmt.Sprintf("**Tracks:** %d\n\n", summary.Tracks))

	if len(summary.Species) == 0 {
		sb.WriteString("No table was requested or enabled.\n")
	}

	for _, s := range summary.Species {
		m := s.Meta
		sb.WriteString(fmt.Sprintf("## %s\n\n", s.Table))
		sb.WriteString(fmt.Sprintf("- **Hypothesis:** %s\n", s.Species))
		sb.WriteString(fmt.Sprintf("- **Entries:** %d\n", s.Entries))
		sb.WriteString(fmt.Sprintf("- **Invalid entries:** %d\n", s.Invalid))
		sb.WriteString(fmt.Sprintf("- **Mean nsigma:** %s\n", formatMean(s.MeanNSigma)))
		sb.WriteString(fmt.Sprintf("- **Codec:** %d-bit signed, range [%g, %g], bin width %g\n", m.Bits, m.Min, m.Max, m.BinWidth))
		sb.WriteString(fmt.Sprintf("- **Invalid code:** %d\n", m.InvalidCode))
		sb.WriteString(fmt.Sprintf("- **Storage:** `%s`, %d byte(s) per track\n\n", storageType(m.Bits), storageBytes(m.Bits)))
	}

	sb.WriteString("---\n\n")
	sb.WriteString("## Decoding\n\n")
	sb.WriteString("nsigma = nsigma_min + (code - invalid_code - 1) * bin_width, with the codec recorded in `pid_codec`.\n")
	sb.WriteString("Codes equal to the invalid code mark tracks whose response could not be evaluated.\n")
	sb.WriteString("Values outside [min, max] were clamped: a decoded value equal to min or max may be saturated.\n\n")
	sb.WriteString("## Layout\n\n")
	sb.WriteString(fmt.Sprintf("Each table has the single column `%s`. Row `rowid` of every table belongs to input track `rowid`,\n", nsigmaColumn))
	sb.WriteString(fmt.Sprintf("so tables are joined to the tracks and to each other by row number. `%s(batch, first_row, tracks)`\n", batchTable))
	sb.WriteString("lists the rows each batch produced.\n")

	filename := filepath.Join(g.outputDir, ManifestName)
	if err := os.WriteFile(filename, []byte(sb.String()), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write manifest %s", filename)
	}

	return filename, nil
}

func formatMean(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}

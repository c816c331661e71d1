package report

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/payback159/cubesatbudget/pkg/models"
)

var runColumns = []string{
	"run_id", "project", "timestamp",
	"modulation", "tx_power_dbw", "tx_gain_db", "rx_gain_db", "frequency_hz", "distance_m",
	"noise_temperature_k", "bandwidth_hz", "code_rate", "extra_losses_db",
	"received_power_dbw", "noise_power_dbw", "cn_db", "ebn0_db", "ber", "required_ebn0_db", "margin_db", "link_closes",
	"generation_rate_bps", "downlink_rate_bps", "pass_duration_s", "passes_per_day", "storage_capacity_bytes",
	"daily_generation_bytes", "daily_downlink_bytes", "net_growth_bps", "time_to_fill_days", "recommendations",
}

// runRecord flattens a run into the runColumns order.
func runRecord(run models.Run) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }
	tags := make([]string, 0, len(run.DataResult.Recommendations))
	for _, rec := range run.DataResult.Recommendations {
		tags = append(tags, rec.Tag)
	}
	return []string{
		run.ID, run.Project, run.At.UTC().Format(time.RFC3339),
		run.Link.Modulation, f(run.Link.TxPowerDBW), f(run.Link.TxGainDB), f(run.Link.RxGainDB),
		f(run.Link.FrequencyHz), f(run.Link.DistanceM), f(run.Link.NoiseTempK), f(run.Link.BandwidthHz),
		f(run.Link.CodeRate), f(run.Link.ExtraLossesDB),
		f(run.LinkResult.ReceivedPowerDBW), f(run.LinkResult.NoisePowerDBW), f(run.LinkResult.CarrierToNoiseDB),
		f(run.LinkResult.EbN0DB), f(run.LinkResult.BitErrorRate), f(run.LinkResult.RequiredEbN0DB),
		f(run.LinkResult.MarginDB), strconv.FormatBool(run.LinkResult.LinkCloses),
		f(run.Data.GenerationRateBps), f(run.Data.DownlinkRateBps), f(run.Data.PassDurationS),
		f(run.Data.PassesPerDay), f(run.Data.StorageCapacityBytes),
		f(run.DataResult.DailyGenerationBytes), f(run.DataResult.DailyDownlinkBytes),
		f(run.DataResult.NetGrowthRateBps), run.DataResult.TimeToFillDays.Format(3),
		strings.Join(tags, ";"),
	}
}

// WriteRunsCSV writes one row per calculation run.
func WriteRunsCSV(w io.Writer, runs []models.Run) error {
	var buffer bytes.Buffer
	buffer.WriteString(strings.Join(runColumns, ","))
	buffer.WriteString("\n")

	for _, run := range runs {
		fields := runRecord(run)
		for i, field := range fields {
			fields[i] = sanitizeCSVField(field)
		}
		buffer.WriteString(strings.Join(fields, ","))
		buffer.WriteString("\n")
	}

	_, err := w.Write(buffer.Bytes())
	return err
}

// sanitizeCSVField prevents CSV injection and properly escapes fields
func sanitizeCSVField(field string) string {
	// Prevent formula injection: prefix dangerous first characters.
	// Negative numbers are left alone.
	if len(field) > 0 {
		first := field[0]
		if first == '=' || first == '+' || first == '@' || first == '\t' || first == '\r' ||
			(first == '-' && !isNumber(field)) {
			field = "'" + field
		}
	}
	// Properly quote fields containing commas, quotes, or newlines
	if strings.ContainsAny(field, ",\"\n") {
		field = "\"" + strings.ReplaceAll(field, "\"", "\"\"") + "\""
	}
	return field
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

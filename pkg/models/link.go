package models

// LinkBudgetParameters holds the transmitter, receiver and channel inputs
// of a link budget. Powers and gains are in dB units, frequencies in Hz,
// distances in metres.
type LinkBudgetParameters struct {
	TxPowerDBW     float64 `json:"tx_power_dbw" yaml:"tx_power_dbw"`
	TxGainDB       float64 `json:"tx_gain_db" yaml:"tx_gain_db"`
	RxGainDB       float64 `json:"rx_gain_db" yaml:"rx_gain_db"`
	FrequencyHz    float64 `json:"frequency_hz" yaml:"frequency_hz"`
	DistanceM      float64 `json:"distance_m" yaml:"distance_m"`
	NoiseTempK     float64 `json:"noise_temperature_k" yaml:"noise_temperature_k"`
	BandwidthHz    float64 `json:"bandwidth_hz" yaml:"bandwidth_hz"`
	Modulation     string  `json:"modulation" yaml:"modulation"`
	CodeRate       float64 `json:"code_rate" yaml:"code_rate"`
	DataRateBps    float64 `json:"data_rate_bps,omitempty" yaml:"data_rate_bps"` // 0 = derive from modulation
	ExtraLossesDB  float64 `json:"extra_losses_db" yaml:"extra_losses_db"`
	RequiredEbN0DB float64 `json:"required_ebn0_db" yaml:"required_ebn0_db"`
	RequiredBER    float64 `json:"required_ber,omitempty" yaml:"required_ber"` // > 0 overrides RequiredEbN0DB
}

// LinkBudgetResult is the derived output of one link budget evaluation.
type LinkBudgetResult struct {
	EIRPDBW            float64  `json:"eirp_dbw"`
	PathLossDB         float64  `json:"path_loss_db"`
	ReceivedPowerDBW   float64  `json:"received_power_dbw"`
	NoisePowerDBW      float64  `json:"noise_power_dbw"`
	CarrierToNoiseDB   float64  `json:"carrier_to_noise_db"`
	CarrierToNoiseDBHz float64  `json:"carrier_to_noise_density_dbhz"`
	BitRateBps         float64  `json:"bit_rate_bps"`
	EbN0DB             float64  `json:"ebn0_db"`
	BitErrorRate       float64  `json:"bit_error_rate"`
	RequiredEbN0DB     float64  `json:"required_ebn0_db"`
	MarginDB           float64  `json:"margin_db"`
	LinkCloses         bool     `json:"link_closes"`
	Status             string   `json:"status"`
	Hints              []string `json:"hints,omitempty"`
}

// DefaultLinkParameters returns a UHF CubeSat downlink at 1000 km.
func DefaultLinkParameters() LinkBudgetParameters {
	return LinkBudgetParameters{
		TxPowerDBW:     0,
		TxGainDB:       0,
		RxGainDB:       12,
		FrequencyHz:    437e6,
		DistanceM:      1000e3,
		NoiseTempK:     290,
		BandwidthHz:    9600,
		Modulation:     "BPSK",
		CodeRate:       1,
		ExtraLossesDB:  2,
		RequiredEbN0DB: 9.6,
	}
}

// Package config carrega os parâmetros ajustáveis do núcleo de
// compartilhamento a partir de YAML, no mesmo formato load/save-com-
// defaults usado pelo gerenciador de configuração de referência do pack.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeouts agrupa os prazos de espera citados em spec.md §6.
type Timeouts struct {
	HandshakeDeadline          time.Duration `yaml:"handshake_deadline"`
	ReadFrames                 time.Duration `yaml:"read_frames"`
	ReadResponseFrame          time.Duration `yaml:"read_response_frame"`
	InitiatorCancelDelay       time.Duration `yaml:"initiator_cancel_delay"`
	OutgoingDisconnectionDelay time.Duration `yaml:"outgoing_disconnection_delay"`
	MultiplexWriteTimeout      time.Duration `yaml:"multiplex_write_timeout"`
	MultiplexConnResponse      time.Duration `yaml:"multiplex_connection_response_timeout"`
}

// Thresholds agrupa limiares de tamanho e contagem.
type Thresholds struct {
	AttachmentsSizeOverHighQualityMedium int64 `yaml:"attachments_size_over_high_quality_medium_bytes"`
	MaxCertificateDownloadsDuringDiscovery int `yaml:"max_certificate_downloads_during_discovery"`
	CertificateDownloadDuringDiscoveryPeriod time.Duration `yaml:"certificate_download_during_discovery_period"`
	TransferSpeedWindow time.Duration `yaml:"transfer_speed_window"`
}

// Config é o conjunto completo de parâmetros ajustáveis.
type Config struct {
	Timeouts             Timeouts   `yaml:"timeouts"`
	Thresholds           Thresholds `yaml:"thresholds"`
	CancellationOptimization bool   `yaml:"cancellation_optimization"`
}

// Default retorna os valores descritos em spec.md §6.
func Default() *Config {
	return &Config{
		Timeouts: Timeouts{
			HandshakeDeadline:          15 * time.Second,
			ReadFrames:                 15 * time.Second,
			ReadResponseFrame:          60 * time.Second,
			InitiatorCancelDelay:       500 * time.Millisecond,
			OutgoingDisconnectionDelay: 60 * time.Second,
			MultiplexWriteTimeout:      5 * time.Second,
			MultiplexConnResponse:      10 * time.Second,
		},
		Thresholds: Thresholds{
			AttachmentsSizeOverHighQualityMedium:     4 << 20, // 4 MiB, dentro da faixa de dígito único em MB citada em spec.md §6
			MaxCertificateDownloadsDuringDiscovery:   3,
			CertificateDownloadDuringDiscoveryPeriod: 10 * time.Second,
			TransferSpeedWindow:                      500 * time.Millisecond,
		},
		CancellationOptimization: false,
	}
}

// Load lê cfgPath e faz merge sobre os valores padrão; se o arquivo não
// existir, retorna os padrões e grava o arquivo para uso futuro.
func Load(cfgPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, Save(cfgPath, cfg)
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save grava cfg em cfgPath como YAML.
func Save(cfgPath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0o644)
}

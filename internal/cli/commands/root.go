// Copyright © 2024 KubeStack-AI Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kafkesc/kcl-lag-exporter/internal/kconfig"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
)

var (
	cfgFile string
	cfg     *kconfig.Config
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "kcl",
	Short: "kcl-lag-exporter computes and exports Kafka consumer group lag.",
	Long: `kcl-lag-exporter is a continuously running observability service that
computes, per consumer group and per topic partition, offset lag and time
lag against a Kafka cluster, and exposes them as Prometheus metrics.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := kconfig.Load(cfgFile, v)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded

		if lvl := v.GetString("log-level-override"); lvl != "" {
			cfg.Logger.Level = lvl
		}
		logger.Init(cfg.Logger)

		return nil
	},
}

// Execute runs the root command, exiting the process with a non-zero
// status on a configuration or startup failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringSlice("kafka-brokers", nil, "kafka bootstrap brokers")
	rootCmd.PersistentFlags().String("http-addr", "", "HTTP listen address")
	rootCmd.PersistentFlags().Int("offsets-history", 0, "watermark samples retained per partition")
	rootCmd.PersistentFlags().String("cluster-id", "", "cluster identifier label attached to every metric")

	_ = v.BindPFlag("log-level-override", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("kafka.brokers", rootCmd.PersistentFlags().Lookup("kafka-brokers"))
	_ = v.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("http-addr"))
	_ = v.BindPFlag("offsets_history", rootCmd.PersistentFlags().Lookup("offsets-history"))
	_ = v.BindPFlag("cluster_id", rootCmd.PersistentFlags().Lookup("cluster-id"))

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of kcl-lag-exporter",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kcl-lag-exporter v0.1.0")
		},
	})
}

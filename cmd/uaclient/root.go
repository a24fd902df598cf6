// Copyright 2025 Edgeo SCADA
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

package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	endpoint       string
	timeout        int
	verbose        bool
	securityPolicy string
	securityMode   string
	certFile       string
	keyFile        string
	username       string
	password       string
)

var rootCmd = &cobra.Command{
	Use:   "uaclient",
	Short: "OPC UA connection test client",
	Long: `A command line client for establishing OPC UA connections.

Examples:
  uaclient discover -e opc.tcp://localhost:4840
  uaclient connect -e opc.tcp://localhost:4840
  uaclient connect -e opc.tcp://localhost:4840 -u operator -p secret`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "opc.tcp://localhost:4840", "OPC UA server endpoint URL")
	rootCmd.PersistentFlags().IntVarP(&timeout, "timeout", "t", 5000, "Operation timeout in milliseconds")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&securityPolicy, "security-policy", "s", "", "Security policy (None, Basic128Rsa15, Basic256, Basic256Sha256, Aes128Sha256RsaOaep, Aes256Sha256RsaPss); empty accepts any")
	rootCmd.PersistentFlags().StringVarP(&securityMode, "security-mode", "m", "", "Security mode (None, Sign, SignAndEncrypt); empty accepts any")
	rootCmd.PersistentFlags().StringVar(&certFile, "cert", "", "Path to client certificate file (PEM format)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "Path to client private key file (PEM format)")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "Username for session activation")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Password for session activation")

	viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("security-policy", rootCmd.PersistentFlags().Lookup("security-policy"))
	viper.BindPFlag("security-mode", rootCmd.PersistentFlags().Lookup("security-mode"))

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("OPCUA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	endpoint = viper.GetString("endpoint")
	timeout = viper.GetInt("timeout")
	securityPolicy = viper.GetString("security-policy")
	securityMode = viper.GetString("security-mode")
}

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
	"fmt"

	"github.com/edgeo-scada/uaclient"
	"github.com/spf13/cobra"
)

var noSession bool

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Establish a connection and report the reached state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildClientOptions()
		if err != nil {
			return err
		}
		opts = append(opts, uaclient.WithStateCallback(func(_ *uaclient.Client, state uaclient.ClientState) {
			if verbose {
				fmt.Println("state:", state)
			}
		}))

		client, err := uaclient.NewClient(opts...)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		if noSession {
			err = client.ConnectNoSession(endpoint)
		} else if username != "" {
			err = client.ConnectUsername(endpoint, username, password)
		} else {
			err = client.Connect(endpoint)
		}
		if err != nil {
			return err
		}

		fmt.Printf("connected to %s (state: %s)\n", endpoint, client.State())
		token := client.Channel().SecurityToken()
		fmt.Printf("secure channel %d, token %d, lifetime %dms\n",
			token.ChannelID, token.TokenID, token.RevisedLifetime)
		return nil
	},
}

func init() {
	connectCmd.Flags().BoolVar(&noSession, "no-session", false, "Stop after the secure channel is open")
}

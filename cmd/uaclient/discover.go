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
	"os"
	"text/tabwriter"

	"github.com/edgeo-scada/uaclient"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the endpoints advertised by a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildClientOptions()
		if err != nil {
			return err
		}

		endpoints, err := uaclient.Discover(endpoint, opts...)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tMODE\tPOLICY\tTOKENS")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "%s\t%s\t%s\t", ep.EndpointURL, ep.SecurityMode, shortPolicy(ep.SecurityPolicyURI))
			for i, tok := range ep.UserIdentityTokens {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprint(w, tok.TokenType)
			}
			fmt.Fprintln(w)
		}
		return w.Flush()
	},
}

// shortPolicy strips the common URI prefix for display.
func shortPolicy(uri string) string {
	const prefix = "http://opcfoundation.org/UA/SecurityPolicy#"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		return uri[len(prefix):]
	}
	return uri
}

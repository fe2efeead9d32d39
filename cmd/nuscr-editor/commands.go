package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/nuscr-editor/internal/enum"
	"github.com/kingrea/nuscr-editor/internal/selector"
	"github.com/kingrea/nuscr-editor/internal/workspace"
)

func init() {
	rootCmd.AddCommand(checkCmd, rolesCmd, enumCmd, fsmCmd, resolveCmd, liveCmd)

	rolesCmd.Flags().StringVar(&flagFormat, "format", "text", "output format: text|json")

	fsmCmd.Flags().StringVar(&flagRole, "role", "", "role to project (may be role@protocol); prompts from the enumerated roles when omitted")
	fsmCmd.Flags().StringVar(&flagProtocol, "protocol", "", "protocol name (default: first declaration in the file)")
	fsmCmd.Flags().BoolVar(&flagWrite, "write", false, "also write .nuscr-gen/cfsm/<role>.dot next to the file")
}

var (
	flagRole     string
	flagProtocol string
	flagWrite    bool
)

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a protocol with the classical nuscr check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.ws.CheckFile(cmd.Context(), args[0]); err != nil {
			// the output channel already carries the diagnostics
			errorHandled = true
			return err
		}
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:   "roles <file>",
	Short: "List the roles of a protocol, grouped by protocol",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if flagFormat != "text" && flagFormat != "json" {
			return fmt.Errorf("invalid format %q: must be text or json", flagFormat)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.ws.UpdateRoles(cmd.Context(), args[0]); err != nil {
			errorHandled = true
			return err
		}
		tree := s.ws.Roles()
		w := cmd.OutOrStdout()
		if flagFormat == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(rolesJSON(tree.File, tree.Groups))
		}
		for _, group := range tree.Groups {
			for _, role := range group.Roles {
				fmt.Fprintf(w, "%s/%s\n", group.Protocol, role)
			}
		}
		return nil
	},
}

type rolesDocument struct {
	File      string          `json:"file"`
	Protocols []protocolRoles `json:"protocols"`
}

type protocolRoles struct {
	Protocol string   `json:"protocol"`
	Roles    []string `json:"roles"`
}

func rolesJSON(file string, groups []enum.ProtocolGroup) rolesDocument {
	doc := rolesDocument{File: file, Protocols: make([]protocolRoles, 0, len(groups))}
	for _, g := range groups {
		doc.Protocols = append(doc.Protocols, protocolRoles{Protocol: g.Protocol, Roles: append([]string{}, g.Roles...)})
	}
	return doc
}

var enumCmd = &cobra.Command{
	Use:   "enum <file>",
	Short: "Print the raw nuscr --enum output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.ws.EnumToOutput(cmd.Context(), args[0]); err != nil {
			errorHandled = true
			return err
		}
		return nil
	},
}

var fsmCmd = &cobra.Command{
	Use:   "fsm <file>",
	Short: "Generate the CFSM (dot) for one role",
	Long:  "Generate the CFSM (dot) for one role. Without --role the roles are enumerated, one is picked interactively, and the dot is also written to .nuscr-gen/cfsm/<role>.dot.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer s.Close()
		file := args[0]
		if flagRole == "" {
			pick := promptRole(cmd.InOrStdin(), cmd.ErrOrStderr())
			target, err := s.ws.FSMForRole(cmd.Context(), file, pick)
			if err != nil {
				if !errors.Is(err, workspace.ErrNoSelection) {
					errorHandled = true
				}
				return err
			}
			return printCFSM(cmd.OutOrStdout(), target)
		}
		if flagWrite {
			target, err := s.ws.GenerateCFSM(cmd.Context(), file, flagRole, flagProtocol)
			if err != nil {
				errorHandled = true
				return err
			}
			return printCFSM(cmd.OutOrStdout(), target)
		}
		protocol := flagProtocol
		if protocol == "" && !selector.HasProtocol(flagRole) {
			protocol, err = enum.ProtocolNameFromFile(file)
			if err != nil {
				return fmt.Errorf(`protocol name not found in file (e.g. "protocol Adder(...)"): %w`, err)
			}
		}
		res, sel, err := s.client.FSM(cmd.Context(), file, flagRole, protocol)
		if err != nil {
			if res.Stderr != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), strings.TrimRight(res.Stderr, "\n"))
			}
			return err
		}
		s.logger.Printf("fsm %s %s: %d bytes", file, sel, len(res.Stdout))
		_, err = fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		return err
	},
}

func printCFSM(w io.Writer, target string) error {
	if target == "" {
		return errors.New("cfsm generated but could not be written")
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// promptRole lists roles on out and reads the choice from in, either as the
// 1-based number or the role name. Anything else cancels.
func promptRole(in io.Reader, out io.Writer) workspace.RolePicker {
	return func(protocol string, roles []string) string {
		fmt.Fprintf(out, "Roles of protocol %s:\n", protocol)
		for i, role := range roles {
			fmt.Fprintf(out, "  %d) %s\n", i+1, role)
		}
		fmt.Fprint(out, "Select role: ")
		line, _ := bufio.NewReader(in).ReadString('\n')
		choice := strings.TrimSpace(line)
		if n, err := strconv.Atoi(choice); err == nil {
			if n >= 1 && n <= len(roles) {
				return roles[n-1]
			}
			return ""
		}
		for _, role := range roles {
			if role == choice {
				return role
			}
		}
		return ""
	}
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the nuscr binary that will be used, downloading the release if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer s.Close()
		path, err := s.tools.Resolve(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var liveCmd = &cobra.Command{
	Use:   "live <file>",
	Short: "Copy a protocol to the clipboard and open nuScr Live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer s.Close()
		return s.ws.OpenFileInLive(cmd.Context(), args[0])
	},
}

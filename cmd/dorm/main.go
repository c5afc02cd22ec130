// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation.
package main

import (
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"dorm/expr"
	"dorm/host"
	"dorm/internal/parser/toml"
	"dorm/memstore"
	"dorm/orm"
	"dorm/schema"
)

type explainFlags struct {
	table      string
	where      string
	orderField string
	desc       bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "dorm",
		Short: "Document ORM schema tool",
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(relationsCmd())
	rootCmd.AddCommand(explainCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema.toml>",
		Short: "Parse and validate a schema file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := loadSchema(args[0])
			if err != nil {
				return err
			}
			for _, name := range s.Tables() {
				fmt.Println(s.Table(name).String())
			}
			fmt.Printf("OK: %d tables\n", len(s.Tables()))
			return nil
		},
	}
}

func relationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relations <schema.toml>",
		Short: "Print the foreign-key graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := loadSchema(args[0])
			if err != nil {
				return err
			}
			for _, name := range s.Tables() {
				for _, fk := range s.GetForeignKeys(name) {
					fmt.Printf("%s.%v -> %s.%v (on delete %s, on update %s)\n",
						name, fk.Columns, fk.RefTable, fk.RefColumns,
						actionOrDefault(fk.OnDelete), actionOrDefault(fk.OnUpdate))
				}
			}
			return nil
		},
	}
}

func actionOrDefault(a schema.Action) schema.Action {
	if a == schema.ActionNone {
		return schema.ActionNoAction
	}
	return a
}

func explainCmd() *cobra.Command {
	flags := &explainFlags{}
	cmd := &cobra.Command{
		Use:   "explain <schema.toml>",
		Short: "Show the index pick for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runExplain(args[0], flags)
		},
	}
	cmd.Flags().StringVarP(&flags.table, "table", "t", "", "Table to query")
	cmd.Flags().StringVarP(&flags.where, "where", "w", "", "SQL where expression")
	cmd.Flags().StringVarP(&flags.orderField, "order", "o", "", "Order column")
	cmd.Flags().BoolVar(&flags.desc, "desc", false, "Order descending")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func runExplain(path string, flags *explainFlags) error {
	s, err := loadSchema(path)
	if err != nil {
		return err
	}
	var where expr.Expr
	if flags.where != "" {
		where, err = expr.ParseSQL(flags.where)
		if err != nil {
			return err
		}
	}
	o, err := orm.New(s, orm.Config{Store: memstore.New(s.HostIndexes())})
	if err != nil {
		return err
	}
	order := host.Asc
	if flags.desc {
		order = host.Desc
	}
	plan, err := o.ExplainQuery(flags.table, where, flags.orderField, order)
	if err != nil {
		return err
	}
	fmt.Println(plan.String())
	return nil
}

func loadSchema(path string) (*schema.Schema, error) {
	tables, opts, err := toml.NewParser().ParseFile(path)
	if err != nil {
		return nil, err
	}
	return schema.DefineSchema(tables, opts)
}

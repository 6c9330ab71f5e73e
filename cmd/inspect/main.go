// Inspect dumps conversations and message history straight from the Badger
// store, for operators debugging a live deployment.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"helpdesk/repositories"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("config error: ", err)
	}

	dbPath := flag.String("db", cfg.BadgerFilepath, "Path to badger DB")
	conversation := flag.String("conversation", "", "Dump the history of one conversation")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	if *conversation != "" {
		if err := dumpHistory(db, *conversation); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := dumpConversations(db); err != nil {
		log.Fatal(err)
	}
}

func dumpConversations(db *badger.DB) error {
	color.Bold.Println("Conversations")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Customer", "Agent", "Status", "Subject", "Last Message"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	err := db.View(func(txn *badger.Txn) error {
		prefix := []byte("conv:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				conv, err := repositories.DecodeConversation(v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", it.Item().Key(), err)
					return nil
				}
				table.Append([]string{
					conv.ID,
					conv.CustomerName,
					conv.AgentName,
					string(conv.Status),
					conv.Subject,
					conv.LastMessageAt.Format(time.RFC3339),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func dumpHistory(db *badger.DB, conversationID string) error {
	color.Bold.Printf("History of %s\n", conversationID)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Sender", "Role", "Text", "File"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	err := db.View(func(txn *badger.Txn) error {
		prefix := []byte("msg:" + conversationID + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				msg, err := repositories.DecodeMessage(v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", it.Item().Key(), err)
					return nil
				}
				file := ""
				if msg.File != nil {
					file = msg.File.Name
				}
				table.Append([]string{
					msg.CreatedAt.Format(time.RFC3339),
					msg.SenderName,
					string(msg.SenderRole),
					msg.Text,
					file,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

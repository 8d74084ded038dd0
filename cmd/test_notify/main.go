package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/models"
	"github.com/code-Quester/SpeakSutra/internal/services"
)

func main() {
	phone := flag.String("phone", "", "WhatsApp number with country code (e.g. 919876543210)")
	email := flag.String("email", "", "Email address for the welcome email preview")
	name := flag.String("name", "Test Student", "Recipient name used in the messages")
	flag.Parse()

	if *phone == "" && *email == "" {
		log.Fatal("Please provide -phone and/or -email")
	}

	cfg := config.MustLoad()
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	customer := &models.Customer{
		ID:            "test-notify",
		Name:          *name,
		Email:         *email,
		Whatsapp:      *phone,
		OrderID:       "ORDER_TEST",
		PaymentStatus: models.PaymentStatusCompleted,
		Amount:        cfg.Course.PriceMinor,
		Currency:      cfg.Course.Currency,
	}

	if *phone != "" {
		service := services.NewWahaService(cfg.Waha)
		if !service.Configured() {
			log.Fatal("WAHA_BASE_URL is not set")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		log.Printf("Sending WhatsApp message to %s", *phone)
		if err := service.SendMessage(ctx, *phone, services.EnrollmentMessage(customer, cfg.Course)); err != nil {
			log.Fatalf("Failed to send message: %v", err)
		}
		log.Println("Message sent successfully!")
	}

	if *email != "" {
		service := services.NewEmailService(cfg.SMTP, cfg.Course)
		if !service.Configured() {
			log.Fatal("SMTP is not configured")
		}

		log.Printf("Sending welcome email to %s", *email)
		if err := service.SendWelcome(customer); err != nil {
			log.Fatalf("Failed to send email: %v", err)
		}
		log.Println("Email sent successfully!")
	}
}

package attachment

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_ImageExtensionsClassifyAsImage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	extGen := gen.OneConstOf(".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg",
		".PNG", ".Jpg", ".JPEG", ".GiF", ".WEBP", ".Bmp", ".SVG")
	nameGen := gen.AlphaString().SuchThat(func(s string) bool { return s != "" })
	queryGen := gen.OneConstOf("", "?v=1", "?id=abc&x=.pdf", "?download=true")
	hostGen := gen.OneConstOf("example.com", "cdn.mail.io", "drive.google.com", "s3.amazonaws.com")

	properties.Property("image_extension_wins", prop.ForAll(
		func(host, name, ext, query string) bool {
			raw := "https://" + host + "/" + name + ext + query
			return Classify(raw).Kind == KindImage
		},
		hostGen, nameGen, extGen, queryGen,
	))

	properties.TestingRun(t)
}

func TestProperty_ClassifyIsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("any_string_classifies", prop.ForAll(
		func(raw string) bool {
			ref := Classify(raw)
			switch ref.Kind {
			case KindImage, KindPdfDirect, KindDriveDocument, KindExternalUnknown:
			default:
				return false
			}
			if ref.Kind != KindDriveDocument && ref.DriveFileID != "" {
				return false
			}
			return Classify(raw) == ref
		},
		gen.AnyString(),
	))

	properties.Property("strings_without_scheme_are_external", prop.ForAll(
		func(raw string) bool {
			if strings.Contains(raw, "://") {
				return true
			}
			return Classify(raw).Kind == KindExternalUnknown
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

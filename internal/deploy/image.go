package deploy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// defaultDLCAccount hosts the Hugging Face deep learning containers in ECR
// for regions enabled by default
const defaultDLCAccount = "763104351884"

// dlcAccounts lists the regions whose deep learning containers live in
// another account
var dlcAccounts = map[string]string{
	"af-south-1":     "626614931356",
	"ap-east-1":      "871362719292",
	"ap-southeast-3": "907027046896",
	"ca-west-1":      "204538143572",
	"cn-north-1":     "727897471807",
	"cn-northwest-1": "727897471807",
	"eu-central-2":   "380420809688",
	"eu-south-1":     "692866216735",
	"eu-south-2":     "503227376785",
	"il-central-1":   "780543022126",
	"me-central-1":   "914824155844",
	"me-south-1":     "217643126080",
	"us-gov-east-1":  "446045086412",
	"us-gov-west-1":  "442386744353",
}

// DLCAccount returns the ECR account of the deep learning containers in region
func DLCAccount(region string) string {
	if account, ok := dlcAccounts[region]; ok {
		return account
	}
	return defaultDLCAccount
}

// neuronxTGIVersions maps huggingface-neuronx releases to their TGI image tag
var neuronxTGIVersions = map[string]string{
	"0.0.20": "1.13.1-optimum0.0.20-neuronx-py310-ubuntu22.04",
	"0.0.21": "1.13.1-optimum0.0.21-neuronx-py310-ubuntu22.04",
	"0.0.22": "2.1.2-optimum0.0.22-neuronx-py310-ubuntu22.04",
	"0.0.23": "2.1.2-optimum0.0.23-neuronx-py310-ubuntu22.04",
	"0.0.24": "2.1.2-optimum0.0.24-neuronx-py310-ubuntu22.04",
	"0.0.25": "2.1.2-optimum0.0.25-neuronx-py310-ubuntu22.04",
	"0.0.27": "2.1.2-optimum0.0.27-neuronx-py310-ubuntu22.04",
}

// KnownNeuronxVersions returns the supported huggingface-neuronx versions
func KnownNeuronxVersions() []string {
	versions := make([]string, 0, len(neuronxTGIVersions))
	for v := range neuronxTGIVersions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// ResolveImage returns a full image URI. Full URIs are returned unchanged;
// otherwise imageOrVersion is a huggingface-neuronx version.
func ResolveImage(imageOrVersion, region string) (string, error) {
	if strings.Contains(imageOrVersion, "amazonaws.com") {
		return imageOrVersion, nil
	}
	tag, ok := neuronxTGIVersions[imageOrVersion]
	if !ok {
		return "", fmt.Errorf("unknown huggingface-neuronx version %q (known: %s)",
			imageOrVersion, strings.Join(KnownNeuronxVersions(), ", "))
	}
	if region == "" {
		return "", fmt.Errorf("region is required to resolve image version %s", imageOrVersion)
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.%s/huggingface-pytorch-tgi-inference:%s",
		DLCAccount(region), region, dnsSuffix(region), tag), nil
}

func dnsSuffix(region string) string {
	if strings.HasPrefix(region, "cn-") {
		return "amazonaws.com.cn"
	}
	return "amazonaws.com"
}

// MaxNameLength is the SageMaker limit for model and endpoint names
const MaxNameLength = 63

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// SanitizeName maps s onto the SageMaker name charset
func SanitizeName(s string) string {
	s = invalidNameChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NameFromBase appends a millisecond timestamp to base, truncating base so
// the result fits MaxNameLength.
func NameFromBase(base string, now time.Time) string {
	ts := now.UTC().Format("2006-01-02-15-04-05.000")
	ts = strings.Replace(ts, ".", "-", 1)
	return join(base, ts)
}

// NameWithSuffix appends suffix to base under the same length rules.
func NameWithSuffix(base, suffix string) string {
	return join(base, suffix)
}

func join(base, suffix string) string {
	base = SanitizeName(base)
	if base == "" {
		base = "model"
	}
	maxBase := MaxNameLength - len(suffix) - 1
	if maxBase < 1 {
		if len(suffix) > MaxNameLength {
			return suffix[:MaxNameLength]
		}
		return suffix
	}
	if len(base) > maxBase {
		base = strings.TrimRight(base[:maxBase], "-")
	}
	return base + "-" + suffix
}

// ImageBaseName returns a name base derived from an image URI repository,
// e.g. "huggingface-pytorch-tgi-inference".
func ImageBaseName(image string) string {
	repo := image
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		repo = repo[i+1:]
	}
	if i := strings.Index(repo, ":"); i >= 0 {
		repo = repo[:i]
	}
	return SanitizeName(repo)
}

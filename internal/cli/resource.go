package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"spotwatch/internal/app"
	"spotwatch/internal/lifecycle"
)

var (
	resourceOwner string

	createFamily         string
	createRegion         string
	createMaxPrice       string
	createZone           string
	createImage          string
	createKey            string
	createSubnet         string
	createSecurityGroups []string
	createUserData       string
	createTags           []string
	createWorkload       string
)

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Manage spot resources",
}

var resourceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a spot request",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxPrice, err := decimal.NewFromString(createMaxPrice)
		if err != nil {
			return fmt.Errorf("invalid --max-price value: %w", err)
		}
		tags, err := parsePairs(createTags, "--tag")
		if err != nil {
			return err
		}
		return getApp().CreateResource(cmd.Context(), app.ResourceCreateOptions{
			OwnerID:  resourceOwner,
			Family:   createFamily,
			Region:   createRegion,
			MaxPrice: maxPrice,
			Launch: lifecycle.CreateOptions{
				AvailabilityZone: createZone,
				ImageID:          createImage,
				KeyName:          createKey,
				SubnetID:         createSubnet,
				SecurityGroupIDs: createSecurityGroups,
				UserData:         createUserData,
				Tags:             tags,
			},
			WorkloadFile: createWorkload,
		})
	},
}

var resourcePollCmd = &cobra.Command{
	Use:   "poll <id>",
	Short: "Reconcile a resource with the provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PollResource(cmd.Context(), resourceOwner, args[0])
	},
}

var resourceTerminateCmd = &cobra.Command{
	Use:   "terminate <id>",
	Short: "Cancel the spot request and terminate its instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TerminateResource(cmd.Context(), resourceOwner, args[0])
	},
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources owned by --owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListResources(cmd.Context(), resourceOwner)
	},
}

func init() {
	resourceCmd.PersistentFlags().StringVar(&resourceOwner, "owner", "", "Owner id")
	_ = resourceCmd.MarkPersistentFlagRequired("owner")

	f := resourceCreateCmd.Flags()
	f.StringVar(&createFamily, "family", "", "Instance family")
	f.StringVar(&createRegion, "region", "", "Region")
	f.StringVar(&createMaxPrice, "max-price", "", "Maximum hourly price")
	f.StringVar(&createZone, "az", "", "Availability zone")
	f.StringVar(&createImage, "image", "", "Image id (defaults to config)")
	f.StringVar(&createKey, "key", "", "Key pair name (defaults to config)")
	f.StringVar(&createSubnet, "subnet", "", "Subnet id (defaults to config)")
	f.StringSliceVar(&createSecurityGroups, "security-group", nil, "Security group ids (defaults to config)")
	f.StringVar(&createUserData, "user-data", "", "Base64 encoded user data")
	f.StringArrayVar(&createTags, "tag", nil, "Extra tag as key=value, repeatable")
	f.StringVar(&createWorkload, "workload", "", "Path to a workload JSON file")
	_ = resourceCreateCmd.MarkFlagRequired("family")
	_ = resourceCreateCmd.MarkFlagRequired("region")
	_ = resourceCreateCmd.MarkFlagRequired("max-price")

	resourceCmd.AddCommand(resourceCreateCmd)
	resourceCmd.AddCommand(resourcePollCmd)
	resourceCmd.AddCommand(resourceTerminateCmd)
	resourceCmd.AddCommand(resourceListCmd)
}

func parsePairs(raw []string, flag string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid %s value %q, expected key=value", flag, item)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

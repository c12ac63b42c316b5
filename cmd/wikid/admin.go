package main

import (
	"context"
	"fmt"
	"strings"

	"wikid/internal/app"
	"wikid/internal/model"
	"wikid/internal/wiki"

	"github.com/spf13/cobra"
)

// actingUser resolves the --as flag into the user admin commands act as.
// Empty means anonymous, which every admin check denies except creating
// the very first user, so bootstrap is "user add admin --role ADMIN" and
// --as admin from then on.
func actingUser(ctx context.Context, cmd *cobra.Command, a *app.App) (*model.User, error) {
	as, _ := cmd.Flags().GetString("as")
	return a.ActAs(ctx, as)
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, _ := cmd.Flags().GetStringSlice("role")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		password, err := promptPassword("Password: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		user, err := a.Service().RegisterUser(ctx, actor, args[0], password, roles)
		if err != nil {
			return err
		}

		fmt.Printf("Created user %s (%s)\n", user.Username, user.ID)
		return nil
	},
}

// session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage API sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Mint a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.MintSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Println(session.Token)
		return nil
	},
}

// bag command
var bagCmd = &cobra.Command{
	Use:   "bag",
	Short: "Manage bags",
}

var bagCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create or update a bag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		isSystem, _ := cmd.Flags().GetBool("system")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		bag, err := a.Service().UpsertBag(ctx, actor, args[0], description, isSystem)
		if err != nil {
			return err
		}

		fmt.Printf("Bag %s (%s)\n", bag.Name, bag.ID)
		return nil
	},
}

var bagDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete an empty, unreferenced bag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		if err := a.Service().DeleteBag(ctx, actor, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted bag %s\n", args[0])
		return nil
	},
}

// recipe command
var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Manage recipes",
}

// parseLayer reads a --layer value of the form "bag" or "bag:own-acl".
// The own-acl suffix turns off ACL inheritance for that layer.
func parseLayer(raw string) (wiki.LayerSpec, error) {
	name, opt, found := strings.Cut(raw, ":")
	spec := wiki.LayerSpec{BagName: name, InheritACL: true}
	if !found {
		return spec, nil
	}
	if opt != "own-acl" {
		return spec, fmt.Errorf("unknown layer option %q (want \"own-acl\")", opt)
	}
	spec.InheritACL = false
	return spec, nil
}

var recipeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create or update a recipe with ordered layers",
	Long: `Create or update a recipe. Layers are given top-down with repeated
--layer flags: the first is position 0, the writable layer. Append
":own-acl" to a bag name to gate that layer by the recipe's own grants
instead of the bag's.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		rawLayers, _ := cmd.Flags().GetStringSlice("layer")

		layers := make([]wiki.LayerSpec, 0, len(rawLayers))
		for _, raw := range rawLayers {
			spec, err := parseLayer(raw)
			if err != nil {
				return err
			}
			layers = append(layers, spec)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		recipe, err := a.Service().UpsertRecipe(ctx, actor, args[0], description, layers)
		if err != nil {
			return err
		}

		fmt.Printf("Recipe %s (%s) with %d layer(s)\n", recipe.Name, recipe.ID, len(layers))
		return nil
	},
}

var recipeDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		if err := a.Service().DeleteRecipe(ctx, actor, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted recipe %s\n", args[0])
		return nil
	},
}

// grant command
var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Manage permission grants",
}

func parseEntity(raw string) (model.EntityType, error) {
	switch raw {
	case "bag":
		return model.EntityBag, nil
	case "recipe":
		return model.EntityRecipe, nil
	default:
		return "", fmt.Errorf("unknown entity type %q (want \"bag\" or \"recipe\")", raw)
	}
}

func parsePermission(raw string) (model.Permission, error) {
	switch strings.ToUpper(raw) {
	case "READ":
		return model.PermissionRead, nil
	case "WRITE":
		return model.PermissionWrite, nil
	case "ADMIN":
		return model.PermissionAdmin, nil
	default:
		return "", fmt.Errorf("unknown permission %q (want READ, WRITE, or ADMIN)", raw)
	}
}

var grantAddCmd = &cobra.Command{
	Use:   "add ENTITY_TYPE ENTITY_NAME ROLE PERMISSION",
	Short: "Grant a role a permission on a bag or recipe",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, err := parseEntity(args[0])
		if err != nil {
			return err
		}
		permission, err := parsePermission(args[3])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		entry, err := a.Service().AddGrant(ctx, actor, entityType, args[1], args[2], permission)
		if err != nil {
			return err
		}

		fmt.Printf("Granted %s on %s %q to role %s (%s)\n", permission, entityType, args[1], args[2], entry.ID)
		return nil
	},
}

var grantRemoveCmd = &cobra.Command{
	Use:   "remove ENTITY_TYPE ENTITY_NAME GRANT_ID",
	Short: "Remove a permission grant",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, err := parseEntity(args[0])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		if err := a.Service().RemoveGrant(ctx, actor, entityType, args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("Grant removed")
		return nil
	},
}

// role command
var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles",
}

var roleAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		role, err := a.Service().CreateRole(ctx, actor, args[0], description)
		if err != nil {
			return err
		}
		fmt.Printf("Created role %s (%s)\n", role.Name, role.ID)
		return nil
	},
}

var roleDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		actor, err := actingUser(ctx, cmd, a)
		if err != nil {
			return err
		}

		if err := a.Service().DeleteRole(ctx, actor, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted role %s\n", args[0])
		return nil
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().StringSlice("role", nil, "Role(s) to assign to the new user")

	sessionCmd.AddCommand(sessionCreateCmd)

	bagCmd.AddCommand(bagCreateCmd)
	bagCreateCmd.Flags().String("description", "", "Bag description")
	bagCreateCmd.Flags().Bool("system", false, "Mark the bag as a system bag")
	bagCmd.AddCommand(bagDeleteCmd)

	recipeCmd.AddCommand(recipeCreateCmd)
	recipeCreateCmd.Flags().String("description", "", "Recipe description")
	recipeCreateCmd.Flags().StringSlice("layer", nil, "Layer bag names, top-down; first is writable")
	recipeCmd.AddCommand(recipeDeleteCmd)

	grantCmd.AddCommand(grantAddCmd)
	grantCmd.AddCommand(grantRemoveCmd)

	roleCmd.AddCommand(roleAddCmd)
	roleCmd.AddCommand(roleDeleteCmd)

	for _, cmd := range []*cobra.Command{userCmd, bagCmd, recipeCmd, grantCmd, roleCmd} {
		cmd.PersistentFlags().String("as", "", "Username to act as")
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(sessionCmd)
}
